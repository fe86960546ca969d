// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/fault"
)

var testLog = logging.MustGetLogger("client_test")

func TestStateWriterRoundTrip(t *testing.T) {
	require := require.New(t)
	f := filepath.Join(t.TempDir(), "test.state")

	w := NewStateWriter(testLog, f, []byte("passphrase"))
	b, err := w.Load()
	require.NoError(err)
	require.Nil(b)

	require.NoError(w.Update(func(cur []byte) ([]byte, error) {
		require.Nil(cur)
		return []byte("state one"), nil
	}))
	b, err = w.Load()
	require.NoError(err)
	require.Equal([]byte("state one"), b)

	// A failed update leaves the file alone.
	boom := errors.New("boom")
	require.ErrorIs(w.Update(func([]byte) ([]byte, error) { return nil, boom }), boom)
	w.Halt()

	raw, err := os.ReadFile(f)
	require.NoError(err)
	require.NotContains(string(raw), "state one")

	w = NewStateWriter(testLog, f, []byte("passphrase"))
	defer w.Halt()
	b, err = w.Load()
	require.NoError(err)
	require.Equal([]byte("state one"), b)

	wrong := NewStateWriter(testLog, f, []byte("other"))
	defer wrong.Halt()
	_, err = wrong.Load()
	require.ErrorIs(err, ErrDecryptState)
	require.True(fault.Is(err, fault.LocalState))
}

// Two writers on one file stand in for two processes sharing a contact
// book; the file lock keeps their read-modify-write cycles apart.
func TestStateWriterSerializesUpdates(t *testing.T) {
	require := require.New(t)
	f := filepath.Join(t.TempDir(), "counter.state")
	a := NewStateWriter(testLog, f, []byte("passphrase"))
	defer a.Halt()
	b := NewStateWriter(testLog, f, []byte("passphrase"))
	defer b.Halt()

	incr := func(cur []byte) ([]byte, error) {
		var n uint64
		if cur != nil {
			n = binary.BigEndian.Uint64(cur)
		}
		return binary.BigEndian.AppendUint64(nil, n+1), nil
	}

	const rounds = 20
	var wg sync.WaitGroup
	for _, w := range []*StateWriter{a, b} {
		wg.Add(1)
		go func(w *StateWriter) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				require.NoError(w.Update(incr))
			}
		}(w)
	}
	wg.Wait()

	cur, err := a.Load()
	require.NoError(err)
	require.Equal(uint64(2*rounds), binary.BigEndian.Uint64(cur))
}
