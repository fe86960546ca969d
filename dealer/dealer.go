// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package dealer implements the trusted setup role used for development
// deployments.  It simulates the issuers' distributed key generation and
// creates the registrar key, then hands that material to the other roles
// on first start.
package dealer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/katzenpost/hpqc/rand"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/server"
)

const dbFile = "dealer.db"

var (
	// ErrSecretsNotExposed is returned for secret actions when
	// ExposeSecrets is off.
	ErrSecretsNotExposed = errors.New("dealer: secret actions are disabled")

	// ErrUnknownKeyID is returned for a key id with no pending pair.
	ErrUnknownKeyID = errors.New("dealer: invalid key ID")

	// ErrNotInPair is returned when the caller is not part of the pair.
	ErrNotInPair = errors.New("dealer: identity is not part of this pair")

	// ErrAlreadyRetrieved is returned on a second fetch by the same party.
	ErrAlreadyRetrieved = errors.New("dealer: credential already retrieved")
)

// Dealer serves the trusted setup.
type Dealer struct {
	sync.Mutex

	log    *logging.Logger
	scheme idnike.Scheme
	db     *bolt.DB
	setup  *Setup
	rng    io.Reader

	exposeSecrets bool
}

// New is a server.NewHandlerFn for the dealer role.
func New(s *server.Server) (server.Handler, error) {
	cfg := s.Config()
	d, created, err := open(s.DataPath(dbFile), cfg.Dealer, s.LogBackend().GetLogger("dealer"))
	if err != nil {
		return nil, err
	}
	if created {
		d.log.Noticef("Generated setup: n=%d threshold=%d domain=%q.", d.setup.Params.N, d.setup.Params.Threshold, d.setup.Domain)
	}
	if cfg.Debug.GenerateOnly {
		d.Halt()
		return nil, server.ErrGenerateOnly
	}
	if d.exposeSecrets {
		d.log.Warning("ExposeSecrets is set, secret key material is served to anyone.")
	}
	return d, nil
}

func open(f string, cfg *config.Dealer, log *logging.Logger) (*Dealer, bool, error) {
	d := &Dealer{
		log:           log,
		scheme:        idnike.BLS12381(),
		rng:           rand.Reader,
		exposeSecrets: cfg.ExposeSecrets,
	}
	var (
		created bool
		err     error
	)
	d.db, d.setup, created, err = openDB(f, d.scheme, cfg.N, cfg.Threshold, []byte(cfg.Domain), d.rng)
	if err != nil {
		return nil, false, err
	}
	return d, created, nil
}

// Setup returns the trusted setup.
func (d *Dealer) Setup() *Setup {
	return d.setup
}

// Halt closes the database.
func (d *Dealer) Halt() {
	d.db.Sync()
	d.db.Close()
}

// Stats implements server.Statser.
func (d *Dealer) Stats() []string {
	pending := 0
	d.db.View(func(tx *bolt.Tx) error {
		pending = tx.Bucket([]byte(pairsBucket)).Stats().KeyN
		return nil
	})
	return []string{
		fmt.Sprintf("issuers %d threshold %d", d.setup.Params.N, d.setup.Params.Threshold),
		fmt.Sprintf("pending_pairs %d", pending),
	}
}

// OnRequest implements server.Handler.
func (d *Dealer) OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error) {
	switch req.(type) {
	case *wire.GetIssuanceParamsRequest:
		return &wire.IssuanceParamsResponse{
			Status:          wire.OK("get pp_issuance"),
			Scheme:          d.setup.Scheme,
			N:               d.setup.Params.N,
			Threshold:       d.setup.Params.Threshold,
			MasterPublicKey: d.setup.Params.MasterPublicKey,
		}, nil
	case *wire.GetBlindProofParamsRequest:
		return &wire.BlindProofParamsResponse{
			Status:            wire.OK("get pp_zk"),
			Scheme:            d.setup.Scheme,
			Domain:            d.setup.Domain,
			MaxIdentityLength: idnike.MaxIdentityLength,
		}, nil
	case *wire.GetIssuersPublicKeysRequest:
		keys := make([]wire.IndexedKey, 0, len(d.setup.IssuerPublicKeys))
		for _, k := range d.setup.IssuerPublicKeys {
			keys = append(keys, wire.IndexedKey{Index: k.Index, Key: k.Key})
		}
		return &wire.IssuersPublicKeysResponse{Status: wire.OK("get honest issuers public keys"), Keys: keys}, nil
	case *wire.GetRegistrarPublicKeyRequest:
		return &wire.RegistrarPublicKeyResponse{
			Status:             wire.OK("get registrar public key"),
			RegistrarPublicKey: d.setup.RegistrarPublicKey,
			Domain:             d.setup.Domain,
		}, nil
	}

	if !d.exposeSecrets {
		return nil, wire.NewError(wire.CodeForbidden, ErrSecretsNotExposed)
	}
	d.log.Debugf("Secret action %s from %s.", req.Action(), peer)

	switch r := req.(type) {
	case *wire.GetIssuersSecretKeysRequest:
		keys := make([]wire.IndexedKey, 0, len(d.setup.IssuerSecretKeys))
		for _, k := range d.setup.IssuerSecretKeys {
			keys = append(keys, wire.IndexedKey{Index: k.Index, Key: k.Key})
		}
		return &wire.IssuersSecretKeysResponse{Status: wire.OK("get honest issuers secret keys"), Keys: keys}, nil
	case *wire.GetRegistrarSecretKeyRequest:
		return &wire.RegistrarSecretKeyResponse{
			Status:             wire.OK("get registrar secret key"),
			RegistrarSecretKey: d.setup.RegistrarSecretKey,
		}, nil
	case *wire.ComputeSKsRequest:
		keyID, err := d.ComputeSKs(r.AliceIDString, r.BobIDString)
		if err != nil {
			return nil, err
		}
		return &wire.ComputeSKsResponse{Status: wire.OK("sks generated"), KeyID: keyID}, nil
	case *wire.RetrieveSKsRequest:
		sk, err := d.RetrieveSK(r.KeyID, r.IDString, r.WantIDString)
		if err != nil {
			return nil, err
		}
		return &wire.RetrieveSKsResponse{Status: wire.OK("sk retrieved"), SK: sk}, nil
	default:
		return nil, wire.Errorf(wire.CodeInvalidAction, "dealer: unsupported action %s", req.Action())
	}
}

// Deal runs the complete blind issuance for id against every issuer share
// and returns the verified credential.
func (d *Dealer) Deal(id idnike.Identity) (idnike.UserSecretKey, error) {
	s := d.setup
	att, err := d.scheme.Register(s.RegistrarSecretKey, id, s.Domain)
	if err != nil {
		return nil, err
	}
	bctx, req, err := d.scheme.Blind(s.RegistrarPublicKey, id, s.Domain, att, d.rng)
	if err != nil {
		return nil, err
	}
	defer bctx.Discard()

	partials := make([]*idnike.PartialKey, 0, len(s.IssuerSecretKeys))
	for i, share := range s.IssuerSecretKeys {
		bpk, err := d.scheme.BlindPartialExtract(share, s.RegistrarPublicKey, req)
		if err != nil {
			return nil, err
		}
		if err = d.scheme.VerifyBlindPartialKey(s.IssuerPublicKeys[i], req, bpk); err != nil {
			return nil, err
		}
		pk, err := d.scheme.Unblind(bctx, bpk)
		if err != nil {
			return nil, err
		}
		partials = append(partials, pk)
	}
	sk, err := d.scheme.Combine(partials, s.Params.Threshold)
	if err != nil {
		return nil, err
	}
	if err = d.scheme.VerifyUserSecretKey(s.Params, id, s.Domain, sk); err != nil {
		return nil, err
	}
	return sk, nil
}

// ComputeSKs deals credentials to both identities and returns the key id
// they are fetched with.  A pair that is still pending keeps its key id.
func (d *Dealer) ComputeSKs(alice, bob string) (string, error) {
	aliceID, err := idnike.NewIdentity(alice)
	if err != nil {
		return "", wire.NewError(wire.CodeInvalidRequest, err)
	}
	bobID, err := idnike.NewIdentity(bob)
	if err != nil {
		return "", wire.NewError(wire.CodeInvalidRequest, err)
	}

	d.Lock()
	defer d.Unlock()

	var keyID string
	d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(pairIndexBucket)).Get(pairIndexKey(alice, bob)); v != nil {
			keyID = string(v)
		}
		return nil
	})
	if keyID != "" {
		return keyID, nil
	}

	aliceSK, err := d.Deal(aliceID)
	if err != nil {
		return "", err
	}
	bobSK, err := d.Deal(bobID)
	if err != nil {
		return "", err
	}
	raw, err := cbor.Marshal(&pair{
		Alice:     alice,
		Bob:       bob,
		AliceSK:   aliceSK,
		BobSK:     bobSK,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return "", err
	}
	keyID = uuid.New().String()
	err = d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(pairsBucket)).Put([]byte(keyID), raw); err != nil {
			return err
		}
		return tx.Bucket([]byte(pairIndexBucket)).Put(pairIndexKey(alice, bob), []byte(keyID))
	})
	if err != nil {
		return "", err
	}
	d.log.Debugf("Dealt a credential pair under %s.", keyID)
	return keyID, nil
}

// RetrieveSK hands id its half of the pair once.  The pair is removed
// when both halves were fetched.
func (d *Dealer) RetrieveSK(keyID, id, want string) ([]byte, error) {
	d.Lock()
	defer d.Unlock()

	var sk []byte
	err := d.db.Update(func(tx *bolt.Tx) error {
		pBkt := tx.Bucket([]byte(pairsBucket))
		raw := pBkt.Get([]byte(keyID))
		if raw == nil {
			return wire.NewError(wire.CodeNotFound, ErrUnknownKeyID)
		}
		p := new(pair)
		if err := cbor.Unmarshal(raw, p); err != nil {
			return err
		}

		switch {
		case id == p.Alice && want == p.Bob:
			if p.AliceFetched {
				return wire.NewError(wire.CodeForbidden, ErrAlreadyRetrieved)
			}
			p.AliceFetched = true
			sk = p.AliceSK
		case id == p.Bob && want == p.Alice:
			if p.BobFetched {
				return wire.NewError(wire.CodeForbidden, ErrAlreadyRetrieved)
			}
			p.BobFetched = true
			sk = p.BobSK
		default:
			return wire.NewError(wire.CodeForbidden, ErrNotInPair)
		}

		if p.AliceFetched && p.BobFetched {
			if err := pBkt.Delete([]byte(keyID)); err != nil {
				return err
			}
			return tx.Bucket([]byte(pairIndexBucket)).Delete(pairIndexKey(p.Alice, p.Bob))
		}
		raw, err := cbor.Marshal(p)
		if err != nil {
			return err
		}
		return pBkt.Put([]byte(keyID), raw)
	})
	if err != nil {
		return nil, err
	}
	return sk, nil
}
