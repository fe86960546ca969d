// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package memstore implements a volatile dead-drop store.
package memstore

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arke-messenger/arke/store"
)

type memStore struct {
	sync.RWMutex

	slots map[common.Address]store.Message
}

func (s *memStore) Close() {}

func (s *memStore) Write(addr common.Address, msg *store.Message) (bool, error) {
	s.Lock()
	defer s.Unlock()

	_, overwrote := s.slots[addr]
	m := *msg
	m.IV = append([]byte{}, msg.IV...)
	m.Ciphertext = append([]byte{}, msg.Ciphertext...)
	s.slots[addr] = m
	return overwrote, nil
}

func (s *memStore) Read(addr common.Address) (*store.Message, error) {
	s.RLock()
	defer s.RUnlock()

	m, ok := s.slots[addr]
	if !ok {
		return nil, store.ErrSlotEmpty
	}
	return &m, nil
}

func (s *memStore) Delete(addr common.Address, digest []byte) (bool, error) {
	s.Lock()
	defer s.Unlock()

	m, existed := s.slots[addr]
	if !existed {
		return false, nil
	}
	if !m.Matches(digest) {
		return false, store.ErrSlotChanged
	}
	delete(s.slots, addr)
	return true, nil
}

func (s *memStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.slots)
}

// New returns an empty in-memory store.
func New() store.Store {
	return &memStore{slots: make(map[common.Address]store.Message)}
}
