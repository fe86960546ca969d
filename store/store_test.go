// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/store"
	"github.com/arke-messenger/arke/store/boltstore"
	"github.com/arke-messenger/arke/store/memstore"
)

func backends(t *testing.T) map[string]func() store.Store {
	dir := t.TempDir()
	return map[string]func() store.Store{
		"memory": memstore.New,
		"bolt": func() store.Store {
			s, err := boltstore.New(filepath.Join(dir, "store.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestSingleSlot(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := open()
			defer s.Close()

			addr := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
			_, err := s.Read(addr)
			require.ErrorIs(err, store.ErrSlotEmpty)

			now := time.Unix(time.Now().Unix(), 0)
			overwrote, err := s.Write(addr, &store.Message{IV: []byte{1}, Ciphertext: []byte("first"), Sender: "alice0001", WrittenAt: now})
			require.NoError(err)
			require.False(overwrote)

			// A second write before the first is consumed replaces it.
			overwrote, err = s.Write(addr, &store.Message{IV: []byte{2}, Ciphertext: []byte("second"), Sender: "bob00002", WrittenAt: now})
			require.NoError(err)
			require.True(overwrote)
			require.Equal(1, s.Len())

			msg, err := s.Read(addr)
			require.NoError(err)
			require.Equal([]byte("second"), msg.Ciphertext)
			require.Equal("bob00002", msg.Sender)
			require.True(now.Equal(msg.WrittenAt))

			existed, err := s.Delete(addr, nil)
			require.NoError(err)
			require.True(existed)
			existed, err = s.Delete(addr, nil)
			require.NoError(err)
			require.False(existed)
			require.Equal(0, s.Len())
		})
	}
}

func TestConditionalDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := open()
			defer s.Close()

			addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
			first := &store.Message{IV: []byte{1}, Ciphertext: []byte("first"), Sender: "alice0001"}
			_, err := s.Write(addr, first)
			require.NoError(err)
			consumed, err := s.Read(addr)
			require.NoError(err)
			digest := consumed.Digest()
			require.Equal(first.Digest(), digest)

			// The peer writes again after the read.
			_, err = s.Write(addr, &store.Message{IV: []byte{2}, Ciphertext: []byte("second"), Sender: "alice0001"})
			require.NoError(err)

			existed, err := s.Delete(addr, digest[:])
			require.ErrorIs(err, store.ErrSlotChanged)
			require.False(existed)
			msg, err := s.Read(addr)
			require.NoError(err)
			require.Equal([]byte("second"), msg.Ciphertext)

			digest = msg.Digest()
			existed, err = s.Delete(addr, digest[:])
			require.NoError(err)
			require.True(existed)

			existed, err = s.Delete(addr, digest[:])
			require.NoError(err)
			require.False(existed)
		})
	}
}

func TestBoltPersistence(t *testing.T) {
	require := require.New(t)
	f := filepath.Join(t.TempDir(), "store.db")
	addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	s, err := boltstore.New(f)
	require.NoError(err)
	_, err = s.Write(addr, &store.Message{IV: []byte{1}, Ciphertext: []byte("kept"), Sender: "alice0001"})
	require.NoError(err)
	s.Close()

	s, err = boltstore.New(f)
	require.NoError(err)
	defer s.Close()
	msg, err := s.Read(addr)
	require.NoError(err)
	require.Equal([]byte("kept"), msg.Ciphertext)
}
