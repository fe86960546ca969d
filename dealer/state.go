// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package dealer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/arke-messenger/arke/crypto/idnike"
)

const (
	metadataBucket  = "metadata"
	setupBucket     = "setup"
	pairsBucket     = "pairs"
	pairIndexBucket = "pair_index"

	versionKey = "version"
	setupKey   = "setup"
)

// Setup is the trusted setup output.  It holds every issuer share and
// the registrar key, so the dealer is a development role only.
type Setup struct {
	Scheme             string                     `cbor:"scheme"`
	Domain             []byte                     `cbor:"domain"`
	Params             *idnike.IssuanceParameters `cbor:"params"`
	RegistrarSecretKey idnike.RegistrarSecretKey  `cbor:"registrar_sk"`
	RegistrarPublicKey idnike.RegistrarPublicKey  `cbor:"registrar_pk"`
	IssuerSecretKeys   []*idnike.IssuerSecretKey  `cbor:"issuer_sks"`
	IssuerPublicKeys   []*idnike.IssuerPublicKey  `cbor:"issuer_pks"`
}

// pair is a credential pair dealt by compute_sks, kept until both
// parties fetched their half.
type pair struct {
	Alice        string `cbor:"alice"`
	Bob          string `cbor:"bob"`
	AliceSK      []byte `cbor:"alice_sk"`
	BobSK        []byte `cbor:"bob_sk"`
	AliceFetched bool   `cbor:"alice_fetched"`
	BobFetched   bool   `cbor:"bob_fetched"`
	CreatedAt    int64  `cbor:"created_at"`
}

func pairIndexKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}

func generateSetup(scheme idnike.Scheme, n, threshold int, domain []byte, rng io.Reader) (*Setup, error) {
	regSK, regPK, err := scheme.SetupRegistration(rng)
	if err != nil {
		return nil, err
	}
	pp, sks, pks, err := scheme.SimulateDKG(threshold, n, rng)
	if err != nil {
		return nil, err
	}
	return &Setup{
		Scheme:             scheme.Name(),
		Domain:             domain,
		Params:             pp,
		RegistrarSecretKey: regSK,
		RegistrarPublicKey: regPK,
		IssuerSecretKeys:   sks,
		IssuerPublicKeys:   pks,
	}, nil
}

// openDB opens or creates the dealer database, generating the setup on
// first use.  The second return value is true when the setup was created.
func openDB(f string, scheme idnike.Scheme, n, threshold int, domain []byte, rng io.Reader) (*bolt.DB, *Setup, bool, error) {
	db, err := bolt.Open(f, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, nil, false, err
	}

	var setup *Setup
	created := false
	if err = db.Update(func(tx *bolt.Tx) error {
		mBkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		sBkt, err := tx.CreateBucketIfNotExists([]byte(setupBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(pairsBucket)); err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(pairIndexBucket)); err != nil {
			return err
		}

		if b := mBkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("dealer: incompatible version: %d", uint(b[0]))
			}
			raw := sBkt.Get([]byte(setupKey))
			if raw == nil {
				return errors.New("dealer: database has no setup")
			}
			setup = new(Setup)
			if err := cbor.Unmarshal(raw, setup); err != nil {
				return err
			}
			if setup.Scheme != scheme.Name() {
				return fmt.Errorf("dealer: setup is for scheme %q", setup.Scheme)
			}
			return nil
		}

		if setup, err = generateSetup(scheme, n, threshold, domain, rng); err != nil {
			return err
		}
		raw, err := cbor.Marshal(setup)
		if err != nil {
			return err
		}
		if err = sBkt.Put([]byte(setupKey), raw); err != nil {
			return err
		}
		created = true
		return mBkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		db.Close()
		return nil, nil, false, err
	}
	return db, setup, created, nil
}
