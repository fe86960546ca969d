// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
)

type echoHandler struct {
	halted bool
}

func (h *echoHandler) OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error) {
	switch r := req.(type) {
	case *wire.FindUserRequest:
		if r.IDString == "missing" {
			return nil, wire.Errorf(wire.CodeNotFound, "no user %s", r.IDString)
		}
		return &wire.FindUserResponse{Status: wire.OK("found"), IDString: r.IDString}, nil
	default:
		return nil, errors.New("unsupported")
	}
}

func (h *echoHandler) Halt() {
	h.halted = true
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Server: &config.Server{
			Identifier:    "directory.test",
			Addresses:     []string{"tcp://127.0.0.1:0"},
			DataDir:       filepath.Join(t.TempDir(), "data"),
			RatePerSecond: 1000,
			RateBurst:     1000,
		},
		Logging:   &config.Logging{Disable: true, Level: "DEBUG"},
		Directory: &config.Directory{},
	}
	require.NoError(t, cfg.FixupAndValidate())
	return cfg
}

func TestServerRoundTrip(t *testing.T) {
	require := require.New(t)
	h := new(echoHandler)
	cfg := testConfig(t)
	s, err := New(cfg, func(*Server) (Handler, error) { return h, nil })
	require.NoError(err)

	fi, err := os.Stat(cfg.Server.DataDir)
	require.NoError(err)
	require.Equal(os.FileMode(0700), fi.Mode().Perm())

	addrs := s.Addresses()
	require.Len(addrs, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp wire.FindUserResponse
	require.NoError(wire.Call(ctx, addrs[0], &wire.FindUserRequest{IDString: "bob00002"}, &resp))
	require.Equal("bob00002", resp.IDString)

	err = wire.Call(ctx, addrs[0], &wire.FindUserRequest{IDString: "missing"}, &resp)
	require.True(wire.IsCode(err, wire.CodeNotFound))

	err = wire.Call(ctx, addrs[0], &wire.AddUserRequest{IDString: "bob00002"}, &wire.AddUserResponse{})
	require.True(wire.IsCode(err, wire.CodeInternal))

	// Several exchanges over one connection.
	hostPort, err := wire.HostPort(addrs[0])
	require.NoError(err)
	conn, err := net.Dial("tcp", hostPort)
	require.NoError(err)
	for i := 0; i < 3; i++ {
		require.NoError(wire.Exchange(ctx, conn, &wire.FindUserRequest{IDString: "alice0001"}, &resp))
		require.Equal("alice0001", resp.IDString)
	}
	conn.Close()

	s.Shutdown()
	s.Wait()
	require.True(h.halted)
}

func TestServerRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RatePerSecond = 0.001
	cfg.Server.RateBurst = 1
	s, err := New(cfg, func(*Server) (Handler, error) { return new(echoHandler), nil })
	require.NoError(t, err)
	defer s.Shutdown()

	ctx := context.Background()
	addr := s.Addresses()[0]
	var resp wire.FindUserResponse
	require.NoError(t, wire.Call(ctx, addr, &wire.FindUserRequest{IDString: "bob00002"}, &resp))
	err = wire.Call(ctx, addr, &wire.FindUserRequest{IDString: "bob00002"}, &resp)
	require.True(t, wire.IsCode(err, wire.CodeRateLimited))
}

func TestServerGenerateOnly(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(cfg, func(*Server) (Handler, error) { return nil, ErrGenerateOnly })
	require.ErrorIs(t, err, ErrGenerateOnly)
}

func TestServerRejectsBadDataDir(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Mkdir(cfg.Server.DataDir, 0700))
	require.NoError(t, os.Chmod(cfg.Server.DataDir, 0755))
	_, err := New(cfg, func(*Server) (Handler, error) { return new(echoHandler), nil })
	require.Error(t, err)
}
