// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/server"
)

func TestDirectory(t *testing.T) {
	require := require.New(t)
	cfg := &config.Config{
		Server: &config.Server{
			Identifier: "directory.test",
			Addresses:  []string{"tcp://127.0.0.1:0"},
			DataDir:    filepath.Join(t.TempDir(), "directory"),
		},
		Logging:   &config.Logging{Disable: true},
		Directory: &config.Directory{},
	}
	require.NoError(cfg.FixupAndValidate())
	s, err := server.New(cfg, New)
	require.NoError(err)
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := s.Addresses()[0]
	call := func(req wire.Request, resp wire.Response) error {
		return wire.Call(ctx, addr, req, resp)
	}

	var uniq wire.CheckUniquenessResponse
	require.NoError(call(&wire.CheckUniquenessRequest{IDString: "bob00002"}, &uniq))
	require.True(uniq.Unique)

	var added wire.AddUserResponse
	require.NoError(call(&wire.AddUserRequest{IDString: "bob00002"}, &added))
	require.NotEmpty(added.SessionToken)
	err = call(&wire.AddUserRequest{IDString: "bob00002"}, &added)
	require.True(wire.IsCode(err, wire.CodeAlreadyRegistered))

	require.NoError(call(&wire.CheckUniquenessRequest{IDString: "bob00002"}, &uniq))
	require.False(uniq.Unique)

	var found wire.FindUserResponse
	require.NoError(call(&wire.FindUserRequest{IDString: "bob00002"}, &found))
	require.Equal("bob00002", found.IDString)
	err = call(&wire.FindUserRequest{IDString: "carol"}, &found)
	require.True(wire.IsCode(err, wire.CodeNotFound))

	var session wire.UpdateSessionResponse
	require.NoError(call(&wire.UpdateSessionRequest{IDString: "bob00002"}, &session))
	require.NotEqual(added.SessionToken, session.SessionToken)

	var flag wire.UnreadFlagResponse
	require.NoError(call(&wire.UnreadFlagRequest{IDString: "bob00002", RW: wire.UnreadSetTrue}, &flag))
	err = call(&wire.UnreadFlagRequest{IDString: "bob00002", RW: wire.UnreadRead, SessionToken: added.SessionToken}, &flag)
	require.True(wire.IsCode(err, wire.CodeStaleSession))
	require.NoError(call(&wire.UnreadFlagRequest{IDString: "bob00002", RW: wire.UnreadRead, SessionToken: session.SessionToken}, &flag))
	require.True(flag.Flag)
	require.NoError(call(&wire.UnreadFlagRequest{IDString: "bob00002", RW: wire.UnreadSetFalse, SessionToken: session.SessionToken}, &flag))
	require.NoError(call(&wire.UnreadFlagRequest{IDString: "bob00002", RW: wire.UnreadRead, SessionToken: session.SessionToken}, &flag))
	require.False(flag.Flag)
}
