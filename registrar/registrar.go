// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package registrar implements the registration authority.  It attests
// an identity for a domain exactly once.
package registrar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/rand"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/crypto/pem"
	"github.com/arke-messenger/arke/core/retry"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/internal/instrument"
	"github.com/arke-messenger/arke/server"
)

const (
	privateKeyFile = "registrar.private.pem"
	publicKeyFile  = "registrar.public.pem"
	dbFile         = "registrar.db"

	privateKeyType = "ARKE REGISTRAR PRIVATE KEY"
	publicKeyType  = "ARKE REGISTRAR PUBLIC KEY"

	metadataBucket      = "metadata"
	registrationsBucket = "registrations"
	versionKey          = "version"

	fetchTimeout = 2 * time.Minute
)

var (
	// ErrAlreadyRegistered is returned when the identity already holds an
	// attestation for the domain.
	ErrAlreadyRegistered = errors.New("registrar: identity already registered")

	// ErrWrongDomain is returned for a domain this registrar does not
	// serve.
	ErrWrongDomain = errors.New("registrar: unsupported domain")
)

type registration struct {
	Attestation  []byte `cbor:"attestation"`
	RegisteredAt int64  `cbor:"registered_at"`
}

// Registrar is the registration authority.
type Registrar struct {
	log    *logging.Logger
	scheme idnike.Scheme
	domain []byte

	sk idnike.RegistrarSecretKey
	pk idnike.RegistrarPublicKey

	db *bolt.DB
}

// New is a server.NewHandlerFn for the registrar role.
func New(s *server.Server) (server.Handler, error) {
	cfg := s.Config()
	log := s.LogBackend().GetLogger("registrar")
	scheme := idnike.BLS12381()

	sk, pk, err := loadKeys(s, scheme, log)
	if err != nil {
		return nil, err
	}
	if cfg.Debug.GenerateOnly {
		return nil, server.ErrGenerateOnly
	}
	return open(s.DataPath(dbFile), scheme, []byte(cfg.Registrar.Domain), sk, pk, log)
}

func loadKeys(s *server.Server, scheme idnike.Scheme, log *logging.Logger) (idnike.RegistrarSecretKey, idnike.RegistrarPublicKey, error) {
	privFile, pubFile := s.DataPath(privateKeyFile), s.DataPath(publicKeyFile)
	if pem.Exists(privFile) && pem.Exists(pubFile) {
		priv, pub := &pem.Blob{Type: privateKeyType}, &pem.Blob{Type: publicKeyType}
		if err := pem.FromFile(privFile, priv); err != nil {
			return nil, nil, err
		}
		if err := pem.FromFile(pubFile, pub); err != nil {
			return nil, nil, err
		}
		return priv.Data, pub.Data, nil
	}

	var (
		sk  idnike.RegistrarSecretKey
		pk  idnike.RegistrarPublicKey
		err error
	)
	if dealer := s.Config().Registrar.Dealer; dealer != "" {
		log.Noticef("Fetching the registrar key from the dealer at %v.", dealer)
		sk, pk, err = fetchKeys(dealer)
	} else {
		log.Notice("Generating a registrar key.")
		sk, pk, err = scheme.SetupRegistration(rand.Reader)
	}
	if err != nil {
		return nil, nil, err
	}
	if err = pem.ToFile(privFile, &pem.Blob{Type: privateKeyType, Data: sk}); err != nil {
		return nil, nil, err
	}
	if err = pem.ToFile(pubFile, &pem.Blob{Type: publicKeyType, Data: pk}); err != nil {
		return nil, nil, err
	}
	return sk, pk, nil
}

func fetchKeys(dealer string) (idnike.RegistrarSecretKey, idnike.RegistrarPublicKey, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	var skResp wire.RegistrarSecretKeyResponse
	if err := wire.CallWithRetry(ctx, retry.DefaultPolicy(), dealer, &wire.GetRegistrarSecretKeyRequest{}, &skResp); err != nil {
		return nil, nil, fmt.Errorf("registrar: fetching secret key: %w", err)
	}
	var pkResp wire.RegistrarPublicKeyResponse
	if err := wire.CallWithRetry(ctx, retry.DefaultPolicy(), dealer, &wire.GetRegistrarPublicKeyRequest{}, &pkResp); err != nil {
		return nil, nil, fmt.Errorf("registrar: fetching public key: %w", err)
	}
	return skResp.RegistrarSecretKey, pkResp.RegistrarPublicKey, nil
}

func open(f string, scheme idnike.Scheme, domain []byte, sk idnike.RegistrarSecretKey, pk idnike.RegistrarPublicKey, log *logging.Logger) (*Registrar, error) {
	db, err := bolt.Open(f, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(registrationsBucket)); err != nil {
			return err
		}
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("registrar: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Registrar{
		log:    log,
		scheme: scheme,
		domain: domain,
		sk:     sk,
		pk:     pk,
		db:     db,
	}, nil
}

// PublicKey returns the registrar public key.
func (r *Registrar) PublicKey() idnike.RegistrarPublicKey {
	return r.pk
}

// Halt closes the database.
func (r *Registrar) Halt() {
	r.db.Sync()
	r.db.Close()
}

// Stats implements server.Statser.
func (r *Registrar) Stats() []string {
	n := 0
	r.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(registrationsBucket)).Stats().KeyN
		return nil
	})
	return []string{fmt.Sprintf("registrations %d", n)}
}

func registrationKey(domain []byte, id idnike.Identity) []byte {
	k := make([]byte, 0, len(domain)+1+len(id))
	k = append(k, domain...)
	k = append(k, 0)
	return append(k, id...)
}

// Register attests id for domain.  Each identity is attested at most once
// per domain.
func (r *Registrar) Register(id idnike.Identity, domain []byte) (idnike.Attestation, error) {
	if !bytes.Equal(domain, r.domain) {
		return nil, wire.NewError(wire.CodeInvalidRequest, ErrWrongDomain)
	}
	att, err := r.scheme.Register(r.sk, id, domain)
	if err != nil {
		return nil, err
	}
	raw, err := cbor.Marshal(&registration{Attestation: att, RegisteredAt: time.Now().Unix()})
	if err != nil {
		return nil, err
	}
	key := registrationKey(domain, id)
	err = r.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(registrationsBucket))
		if bkt.Get(key) != nil {
			return wire.NewError(wire.CodeAlreadyRegistered, ErrAlreadyRegistered)
		}
		return bkt.Put(key, raw)
	})
	if err != nil {
		return nil, err
	}
	instrument.Registration()
	r.log.Debugf("Registered an identity for domain %q.", domain)
	return att, nil
}

// OnRequest implements server.Handler.
func (r *Registrar) OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error) {
	switch q := req.(type) {
	case *wire.RegisterRequest:
		id, err := idnike.NewIdentity(q.IDString)
		if err != nil {
			return nil, wire.NewError(wire.CodeInvalidRequest, err)
		}
		att, err := r.Register(id, q.Domain)
		if err != nil {
			return nil, err
		}
		return &wire.RegisterResponse{Status: wire.OK("registered"), Attestation: att}, nil
	case *wire.GetRegistrarPublicKeyRequest:
		return &wire.RegistrarPublicKeyResponse{
			Status:             wire.OK("got registrar_public_key"),
			RegistrarPublicKey: r.pk,
			Domain:             r.domain,
		}, nil
	default:
		return nil, wire.Errorf(wire.CodeInvalidAction, "registrar: unsupported action %s", req.Action())
	}
}
