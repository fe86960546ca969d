// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package dealer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/server"
)

var testLog = logging.MustGetLogger("dealer_test")

func testConfig(t *testing.T, expose bool) *config.Config {
	cfg := &config.Config{
		Server: &config.Server{
			Identifier: "dealer.test",
			Addresses:  []string{"tcp://127.0.0.1:0"},
			DataDir:    filepath.Join(t.TempDir(), "dealer"),
		},
		Logging: &config.Logging{Disable: true},
		Dealer: &config.Dealer{
			N:             5,
			Threshold:     2,
			ExposeSecrets: expose,
		},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func TestDealerPublicActions(t *testing.T) {
	require := require.New(t)
	s, err := server.New(testConfig(t, false), New)
	require.NoError(err)
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := s.Addresses()[0]

	var pp wire.IssuanceParamsResponse
	require.NoError(wire.Call(ctx, addr, &wire.GetIssuanceParamsRequest{}, &pp))
	require.Equal(5, pp.N)
	require.Equal(2, pp.Threshold)
	require.NotEmpty(pp.MasterPublicKey)

	var pks wire.IssuersPublicKeysResponse
	require.NoError(wire.Call(ctx, addr, &wire.GetIssuersPublicKeysRequest{}, &pks))
	require.Len(pks.Keys, 5)

	var zk wire.BlindProofParamsResponse
	require.NoError(wire.Call(ctx, addr, &wire.GetBlindProofParamsRequest{}, &zk))
	require.Equal([]byte("registration"), zk.Domain)
	require.Equal(idnike.MaxIdentityLength, zk.MaxIdentityLength)

	err = wire.Call(ctx, addr, &wire.GetRegistrarSecretKeyRequest{}, &wire.RegistrarSecretKeyResponse{})
	require.True(wire.IsCode(err, wire.CodeForbidden))
}

func TestDealerSetupPersists(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t, false)
	cfg.Debug.GenerateOnly = true
	_, err := server.New(cfg, New)
	require.ErrorIs(err, server.ErrGenerateOnly)

	cfg.Debug.GenerateOnly = false
	f := filepath.Join(cfg.Server.DataDir, dbFile)
	d1, created, err := open(f, cfg.Dealer, testLog)
	require.NoError(err)
	require.False(created)
	mpk := d1.Setup().Params.MasterPublicKey
	d1.Halt()

	d2, _, err := open(f, cfg.Dealer, testLog)
	require.NoError(err)
	defer d2.Halt()
	require.Equal(mpk, d2.Setup().Params.MasterPublicKey)
}

func TestComputeAndRetrieveSKs(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t, true)
	d, _, err := open(filepath.Join(t.TempDir(), dbFile), cfg.Dealer, testLog)
	require.NoError(err)
	defer d.Halt()

	keyID, err := d.ComputeSKs("alice0001", "bob00002")
	require.NoError(err)
	again, err := d.ComputeSKs("bob00002", "alice0001")
	require.NoError(err)
	require.Equal(keyID, again)

	_, err = d.RetrieveSK(keyID, "carol", "alice0001")
	require.ErrorIs(err, ErrNotInPair)

	aliceSK, err := d.RetrieveSK(keyID, "alice0001", "bob00002")
	require.NoError(err)
	_, err = d.RetrieveSK(keyID, "alice0001", "bob00002")
	require.ErrorIs(err, ErrAlreadyRetrieved)
	bobSK, err := d.RetrieveSK(keyID, "bob00002", "alice0001")
	require.NoError(err)

	_, err = d.RetrieveSK(keyID, "bob00002", "alice0001")
	require.ErrorIs(err, ErrUnknownKeyID)

	// The dealt credentials agree on the shared seed.
	alice, bob := idnike.MustIdentity("alice0001"), idnike.MustIdentity("bob00002")
	domain := d.Setup().Domain
	require.NoError(d.scheme.VerifyUserSecretKey(d.Setup().Params, alice, domain, aliceSK))
	a, err := d.scheme.SharedKey(aliceSK, alice, bob, domain)
	require.NoError(err)
	b, err := d.scheme.SharedKey(bobSK, bob, alice, domain)
	require.NoError(err)
	require.Equal(a, b)
}
