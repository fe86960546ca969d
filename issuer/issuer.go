// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package issuer implements one key issuing authority.  It holds a single
// share of the master key and answers blinded extraction requests after
// checking the blinded registration attestation.  It never learns the
// identity it extracts for.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/crypto/pem"
	"github.com/arke-messenger/arke/core/retry"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/internal/instrument"
	"github.com/arke-messenger/arke/server"
)

const (
	shareFile        = "issuer.private.pem"
	publicFile       = "issuer.public.pem"
	paramsFile       = "issuance.params.pem"
	registrarKeyFile = "registrar.public.pem"

	shareType        = "ARKE ISSUER SHARE"
	publicType       = "ARKE ISSUER PUBLIC KEY"
	paramsType       = "ARKE ISSUANCE PARAMETERS"
	registrarKeyType = "ARKE REGISTRAR PUBLIC KEY"

	fetchTimeout = 2 * time.Minute
)

// ErrNoShare is returned on first start without a dealer to fetch from.
var ErrNoShare = errors.New("issuer: no share on disk and no dealer configured")

// Material is what an issuer needs to serve.
type Material struct {
	Params       *idnike.IssuanceParameters
	Share        *idnike.IssuerSecretKey
	Public       *idnike.IssuerPublicKey
	RegistrarKey idnike.RegistrarPublicKey
	Domain       []byte
}

// Issuer is one key issuing authority.
type Issuer struct {
	log    *logging.Logger
	scheme idnike.Scheme
	m      *Material
	label  string
}

// New is a server.NewHandlerFn for the issuer role.
func New(s *server.Server) (server.Handler, error) {
	cfg := s.Config()
	log := s.LogBackend().GetLogger("issuer")
	m, err := loadMaterial(s, log)
	if err != nil {
		return nil, err
	}
	if cfg.Debug.GenerateOnly {
		return nil, server.ErrGenerateOnly
	}
	return NewIssuer(idnike.BLS12381(), m, log)
}

// NewIssuer returns an issuer serving m.
func NewIssuer(scheme idnike.Scheme, m *Material, log *logging.Logger) (*Issuer, error) {
	if err := m.Params.Validate(); err != nil {
		return nil, err
	}
	if m.Share.Index == 0 || int(m.Share.Index) > m.Params.N || m.Public.Index != m.Share.Index {
		return nil, fmt.Errorf("issuer: share index %d is invalid", m.Share.Index)
	}
	log.Noticef("Serving share %d of %d, threshold %d.", m.Share.Index, m.Params.N, m.Params.Threshold)
	return &Issuer{
		log:    log,
		scheme: scheme,
		m:      m,
		label:  strconv.Itoa(int(m.Share.Index)),
	}, nil
}

func loadMaterial(s *server.Server, log *logging.Logger) (*Material, error) {
	icfg := s.Config().Issuer
	m := &Material{Domain: []byte(icfg.Domain)}

	files := []string{s.DataPath(shareFile), s.DataPath(publicFile), s.DataPath(paramsFile)}
	haveShare := true
	for _, f := range files {
		haveShare = haveShare && pem.Exists(f)
	}
	if haveShare {
		share, pub, params := &pem.Blob{Type: shareType}, &pem.Blob{Type: publicType}, &pem.Blob{Type: paramsType}
		for i, b := range []*pem.Blob{share, pub, params} {
			if err := pem.FromFile(files[i], b); err != nil {
				return nil, err
			}
		}
		m.Share = &idnike.IssuerSecretKey{Index: icfg.Index, Key: share.Data}
		m.Public = &idnike.IssuerPublicKey{Index: icfg.Index, Key: pub.Data}
		m.Params = new(idnike.IssuanceParameters)
		if err := cbor.Unmarshal(params.Data, m.Params); err != nil {
			return nil, err
		}
	} else {
		if icfg.Dealer == "" {
			return nil, ErrNoShare
		}
		log.Noticef("Fetching share %d from the dealer at %v.", icfg.Index, icfg.Dealer)
		if err := fetchShare(icfg.Dealer, icfg.Index, m); err != nil {
			return nil, err
		}
		rawParams, err := cbor.Marshal(m.Params)
		if err != nil {
			return nil, err
		}
		for i, b := range []*pem.Blob{
			{Type: shareType, Data: m.Share.Key},
			{Type: publicType, Data: m.Public.Key},
			{Type: paramsType, Data: rawParams},
		} {
			if err := pem.ToFile(files[i], b); err != nil {
				return nil, err
			}
		}
	}

	regKey, err := pem.LoadOrGenerate(s.DataPath(registrarKeyFile), registrarKeyType, func() ([]byte, error) {
		addr := icfg.Registrar
		if addr == "" {
			addr = icfg.Dealer
		}
		if addr == "" {
			return nil, errors.New("issuer: no registrar key on disk and no address to fetch it from")
		}
		log.Noticef("Fetching the registrar public key from %v.", addr)
		return fetchRegistrarKey(addr)
	})
	if err != nil {
		return nil, err
	}
	m.RegistrarKey = regKey
	return m, nil
}

func fetchShare(dealer string, index uint32, m *Material) error {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	var pp wire.IssuanceParamsResponse
	if err := wire.CallWithRetry(ctx, retry.DefaultPolicy(), dealer, &wire.GetIssuanceParamsRequest{}, &pp); err != nil {
		return fmt.Errorf("issuer: fetching parameters: %w", err)
	}
	var sks wire.IssuersSecretKeysResponse
	if err := wire.CallWithRetry(ctx, retry.DefaultPolicy(), dealer, &wire.GetIssuersSecretKeysRequest{}, &sks); err != nil {
		return fmt.Errorf("issuer: fetching shares: %w", err)
	}
	var pks wire.IssuersPublicKeysResponse
	if err := wire.CallWithRetry(ctx, retry.DefaultPolicy(), dealer, &wire.GetIssuersPublicKeysRequest{}, &pks); err != nil {
		return fmt.Errorf("issuer: fetching public keys: %w", err)
	}

	m.Params = &idnike.IssuanceParameters{N: pp.N, Threshold: pp.Threshold, MasterPublicKey: pp.MasterPublicKey}
	for _, k := range sks.Keys {
		if k.Index == index {
			m.Share = &idnike.IssuerSecretKey{Index: k.Index, Key: k.Key}
		}
	}
	for _, k := range pks.Keys {
		if k.Index == index {
			m.Public = &idnike.IssuerPublicKey{Index: k.Index, Key: k.Key}
		}
	}
	if m.Share == nil || m.Public == nil {
		return fmt.Errorf("issuer: dealer has no share %d", index)
	}
	return nil
}

func fetchRegistrarKey(addr string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	var resp wire.RegistrarPublicKeyResponse
	if err := wire.CallWithRetry(ctx, retry.DefaultPolicy(), addr, &wire.GetRegistrarPublicKeyRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("issuer: fetching registrar key: %w", err)
	}
	return resp.RegistrarPublicKey, nil
}

// Index returns the share index.
func (i *Issuer) Index() uint32 {
	return i.m.Share.Index
}

// Stats implements server.Statser.
func (i *Issuer) Stats() []string {
	return []string{fmt.Sprintf("share %d of %d threshold %d", i.m.Share.Index, i.m.Params.N, i.m.Params.Threshold)}
}

// Extract answers one blinded request.
func (i *Issuer) Extract(req *idnike.BlindRequest) (*idnike.BlindPartialKey, error) {
	bpk, err := i.scheme.BlindPartialExtract(i.m.Share, i.m.RegistrarKey, req)
	if err != nil {
		if errors.Is(err, idnike.ErrInvalidBlindRequest) || errors.Is(err, idnike.ErrMalformed) {
			return nil, wire.NewError(wire.CodeVerifyFailed, err)
		}
		return nil, err
	}
	instrument.PartialKeyIssued(i.label)
	return bpk, nil
}

// OnRequest implements server.Handler.
func (i *Issuer) OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error) {
	switch q := req.(type) {
	case *wire.BlindPartialExtractRequest:
		bpk, err := i.Extract(&idnike.BlindRequest{BlindID: q.BlindID, BlindAttestation: q.BlindAttestation})
		if err != nil {
			return nil, err
		}
		return &wire.BlindPartialExtractResponse{
			Status:          wire.OK("blind partial key extracted"),
			Index:           bpk.Index,
			BlindPartialKey: bpk.Key,
		}, nil
	case *wire.GetIssuanceParamsRequest:
		return &wire.IssuanceParamsResponse{
			Status:          wire.OK("get pp_issuance"),
			Scheme:          i.scheme.Name(),
			N:               i.m.Params.N,
			Threshold:       i.m.Params.Threshold,
			MasterPublicKey: i.m.Params.MasterPublicKey,
			Index:           i.m.Public.Index,
			IssuerPublicKey: i.m.Public.Key,
		}, nil
	case *wire.GetBlindProofParamsRequest:
		return &wire.BlindProofParamsResponse{
			Status:            wire.OK("get pp_zk"),
			Scheme:            i.scheme.Name(),
			Domain:            i.m.Domain,
			MaxIdentityLength: idnike.MaxIdentityLength,
		}, nil
	default:
		return nil, wire.Errorf(wire.CodeInvalidAction, "issuer: unsupported action %s", req.Action())
	}
}
