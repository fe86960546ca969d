// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package issuer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/dealer"
	"github.com/arke-messenger/arke/registrar"
	"github.com/arke-messenger/arke/server"
)

func serverConfig(t *testing.T, name string) *config.Config {
	return &config.Config{
		Server: &config.Server{
			Identifier: name + ".test",
			Addresses:  []string{"tcp://127.0.0.1:0"},
			DataDir:    filepath.Join(t.TempDir(), name),
		},
		Logging: &config.Logging{Disable: true},
	}
}

func startServer(t *testing.T, cfg *config.Config, fn server.NewHandlerFn) *server.Server {
	require.NoError(t, cfg.FixupAndValidate())
	s, err := server.New(cfg, fn)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func TestIssuer(t *testing.T) {
	require := require.New(t)

	dcfg := serverConfig(t, "dealer")
	dcfg.Dealer = &config.Dealer{N: 4, Threshold: 1, ExposeSecrets: true}
	ds := startServer(t, dcfg, dealer.New)

	rcfg := serverConfig(t, "registrar")
	rcfg.Registrar = &config.Registrar{Dealer: ds.Addresses()[0]}
	rs := startServer(t, rcfg, registrar.New)

	icfg := serverConfig(t, "issuer2")
	icfg.Issuer = &config.Issuer{Index: 2, Dealer: ds.Addresses()[0], Registrar: rs.Addresses()[0]}
	is := startServer(t, icfg, New)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	addr := is.Addresses()[0]

	var pp wire.IssuanceParamsResponse
	require.NoError(wire.Call(ctx, addr, &wire.GetIssuanceParamsRequest{}, &pp))
	require.Equal(uint32(2), pp.Index)
	require.Equal(4, pp.N)
	require.NotEmpty(pp.IssuerPublicKey)

	var zk wire.BlindProofParamsResponse
	require.NoError(wire.Call(ctx, addr, &wire.GetBlindProofParamsRequest{}, &zk))
	require.Equal(idnike.RegistrationDomain, zk.Domain)

	id := idnike.MustIdentity("alice0001")
	var reg wire.RegisterResponse
	require.NoError(wire.Call(ctx, rs.Addresses()[0], &wire.RegisterRequest{IDString: id.String(), Domain: zk.Domain}, &reg))
	var regPK wire.RegistrarPublicKeyResponse
	require.NoError(wire.Call(ctx, rs.Addresses()[0], &wire.GetRegistrarPublicKeyRequest{}, &regPK))

	scheme := idnike.BLS12381()
	bctx, req, err := scheme.Blind(regPK.RegistrarPublicKey, id, zk.Domain, reg.Attestation, rand.Reader)
	require.NoError(err)
	defer bctx.Discard()

	var bpk wire.BlindPartialExtractResponse
	require.NoError(wire.Call(ctx, addr, &wire.BlindPartialExtractRequest{BlindID: req.BlindID, BlindAttestation: req.BlindAttestation}, &bpk))
	require.Equal(uint32(2), bpk.Index)
	require.NoError(scheme.VerifyBlindPartialKey(
		&idnike.IssuerPublicKey{Index: pp.Index, Key: pp.IssuerPublicKey},
		req,
		&idnike.BlindPartialKey{Index: bpk.Index, Key: bpk.BlindPartialKey},
	))

	// A blinded identity paired with another identity's attestation.
	other := idnike.MustIdentity("mallory01")
	_, forged, err := scheme.Blind(regPK.RegistrarPublicKey, other, zk.Domain, reg.Attestation, rand.Reader)
	require.Error(err)
	require.Nil(forged)
	err = wire.Call(ctx, addr, &wire.BlindPartialExtractRequest{BlindID: req.BlindAttestation, BlindAttestation: req.BlindID}, &bpk)
	require.True(wire.IsCode(err, wire.CodeVerifyFailed), "%v", err)
}

func TestIssuerNeedsShare(t *testing.T) {
	cfg := serverConfig(t, "issuer1")
	cfg.Issuer = &config.Issuer{Index: 1}
	require.NoError(t, cfg.FixupAndValidate())
	_, err := server.New(cfg, New)
	require.ErrorIs(t, err, ErrNoShare)
}
