// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltstore implements the dead-drop store with a bbolt backend.
package boltstore

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/arke-messenger/arke/store"
)

const (
	metadataBucket = "metadata"
	slotsBucket    = "slots"
	versionKey     = "version"
)

type boltStore struct {
	db *bolt.DB
}

func (s *boltStore) Close() {
	s.db.Sync()
	s.db.Close()
}

func (s *boltStore) Write(addr common.Address, msg *store.Message) (bool, error) {
	raw, err := cbor.Marshal(msg)
	if err != nil {
		return false, err
	}
	overwrote := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(slotsBucket))
		overwrote = bkt.Get(addr[:]) != nil
		return bkt.Put(addr[:], raw)
	})
	return overwrote, err
}

func (s *boltStore) Read(addr common.Address) (*store.Message, error) {
	var msg *store.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(slotsBucket)).Get(addr[:])
		if raw == nil {
			return store.ErrSlotEmpty
		}
		msg = new(store.Message)
		return cbor.Unmarshal(raw, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *boltStore) Delete(addr common.Address, digest []byte) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(slotsBucket))
		raw := bkt.Get(addr[:])
		if raw == nil {
			return nil
		}
		if len(digest) != 0 {
			msg := new(store.Message)
			if err := cbor.Unmarshal(raw, msg); err != nil {
				return err
			}
			if !msg.Matches(digest) {
				return store.ErrSlotChanged
			}
		}
		existed = true
		return bkt.Delete(addr[:])
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *boltStore) Len() int {
	n := 0
	s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(slotsBucket)).Stats().KeyN
		return nil
	})
	return n
}

// New creates (or loads) a dead-drop store backed by the bbolt database
// at f.
func New(f string) (store.Store, error) {
	db, err := bolt.Open(f, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(slotsBucket)); err != nil {
			return err
		}
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("store: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}
