// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package registrar

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/dealer"
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

func TestRegister(t *testing.T) {
	require := require.New(t)
	cfg := serverConfig(t, "registrar")
	cfg.Registrar = &config.Registrar{}
	require.NoError(cfg.FixupAndValidate())

	s, err := server.New(cfg, New)
	require.NoError(err)
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := s.Addresses()[0]

	var pk wire.RegistrarPublicKeyResponse
	require.NoError(wire.Call(ctx, addr, &wire.GetRegistrarPublicKeyRequest{}, &pk))

	var resp wire.RegisterResponse
	require.NoError(wire.Call(ctx, addr, &wire.RegisterRequest{IDString: "alice0001", Domain: idnike.RegistrationDomain}, &resp))
	scheme := idnike.BLS12381()
	require.NoError(scheme.VerifyAttestation(pk.RegistrarPublicKey, idnike.MustIdentity("alice0001"), idnike.RegistrationDomain, resp.Attestation))

	err = wire.Call(ctx, addr, &wire.RegisterRequest{IDString: "alice0001", Domain: idnike.RegistrationDomain}, &resp)
	require.True(wire.IsCode(err, wire.CodeAlreadyRegistered))

	err = wire.Call(ctx, addr, &wire.RegisterRequest{IDString: "bob00002", Domain: []byte("other")}, &resp)
	require.True(wire.IsCode(err, wire.CodeInvalidRequest))

	err = wire.Call(ctx, addr, &wire.RegisterRequest{IDString: "bob-00002", Domain: idnike.RegistrationDomain}, &resp)
	require.True(wire.IsCode(err, wire.CodeInvalidRequest))

	err = wire.Call(ctx, addr, &wire.FindUserRequest{IDString: "alice0001"}, &wire.FindUserResponse{})
	require.True(wire.IsCode(err, wire.CodeInvalidAction))
}

func TestKeysPersistAndComeFromDealer(t *testing.T) {
	require := require.New(t)

	dcfg := serverConfig(t, "dealer")
	dcfg.Dealer = &config.Dealer{N: 4, Threshold: 1, ExposeSecrets: true}
	require.NoError(dcfg.FixupAndValidate())
	ds, err := server.New(dcfg, dealer.New)
	require.NoError(err)
	defer ds.Shutdown()

	cfg := serverConfig(t, "registrar")
	cfg.Registrar = &config.Registrar{Dealer: ds.Addresses()[0]}
	require.NoError(cfg.FixupAndValidate())

	cfg.Debug.GenerateOnly = true
	_, err = server.New(cfg, New)
	require.ErrorIs(err, server.ErrGenerateOnly)

	cfg.Debug.GenerateOnly = false
	s, err := server.New(cfg, New)
	require.NoError(err)
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var fromDealer, fromRegistrar wire.RegistrarPublicKeyResponse
	require.NoError(wire.Call(ctx, ds.Addresses()[0], &wire.GetRegistrarPublicKeyRequest{}, &fromDealer))
	require.NoError(wire.Call(ctx, s.Addresses()[0], &wire.GetRegistrarPublicKeyRequest{}, &fromRegistrar))
	require.Equal(fromDealer.RegistrarPublicKey, fromRegistrar.RegistrarPublicKey)
}
