// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package store defines the dead-drop store backend interface.  A dead
// drop is a single slot keyed by an address; the store never sees who
// the address belongs to or what the slot holds.
package store

import (
	"bytes"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSlotEmpty is returned by Read when nothing is stored at the
	// address.
	ErrSlotEmpty = errors.New("store: slot is empty")

	// ErrSlotChanged is returned by a conditional Delete when the slot
	// holds a message other than the one named.
	ErrSlotChanged = errors.New("store: slot holds a newer message")
)

// Message is the content of a slot.
type Message struct {
	IV         []byte    `cbor:"iv"`
	Ciphertext []byte    `cbor:"ciphertext"`
	Sender     string    `cbor:"sender"`
	WrittenAt  time.Time `cbor:"written_at"`
}

// Digest names the message by the hash of its IV and ciphertext.
func (m *Message) Digest() common.Hash {
	return Digest(m.IV, m.Ciphertext)
}

// Digest hashes an IV and ciphertext the way Message.Digest does.
func Digest(iv, ciphertext []byte) common.Hash {
	return crypto.Keccak256Hash(iv, ciphertext)
}

// Matches reports whether the message is the one named by digest.  An
// empty digest matches anything.
func (m *Message) Matches(digest []byte) bool {
	if len(digest) == 0 {
		return true
	}
	d := m.Digest()
	return bytes.Equal(d[:], digest)
}

// Store is the interface provided by all dead-drop store backends.
type Store interface {
	// Write replaces the slot at addr with msg and reports whether an
	// unread message was overwritten.
	Write(addr common.Address, msg *Message) (overwrote bool, err error)

	// Read returns the slot at addr without consuming it.
	Read(addr common.Address) (*Message, error)

	// Delete empties the slot at addr.  When digest is not empty the
	// slot is only emptied if it still holds that message, otherwise
	// ErrSlotChanged is returned and the slot is left alone.  Deleting
	// an empty slot is not an error.
	Delete(addr common.Address, digest []byte) (existed bool, err error)

	// Len returns the number of occupied slots.
	Len() int

	// Close closes the Store instance.
	Close()
}
