// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package pem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToFromPEM(t *testing.T) {
	f := filepath.Join(t.TempDir(), "registrar.private.pem")

	require.Error(t, ToFile(f, &Blob{Type: "registrar private key", Data: make([]byte, 32)}))

	in := &Blob{Type: "registrar private key", Data: []byte{1, 2, 3}}
	require.NoError(t, ToFile(f, in))
	fi, err := os.Stat(f)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	out := &Blob{Type: "registrar private key"}
	require.NoError(t, FromFile(f, out))
	require.Equal(t, in.Data, out.Data)

	require.Error(t, FromFile(f, &Blob{Type: "issuer private key"}))
}

func TestLoadOrGenerate(t *testing.T) {
	f := filepath.Join(t.TempDir(), "share.pem")
	calls := 0
	gen := func() ([]byte, error) {
		calls++
		return []byte{byte(calls)}, nil
	}
	a, err := LoadOrGenerate(f, "issuer share", gen)
	require.NoError(t, err)
	b, err := LoadOrGenerate(f, "issuer share", gen)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, 1, calls)
}
