// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/handshake"
	"github.com/arke-messenger/arke/rendezvous"
	"github.com/arke-messenger/arke/store"
)

// Inbound is a decrypted message taken from a dead drop.
type Inbound struct {
	Sender    string
	Plaintext []byte
	WrittenAt time.Time

	// Digest names the slot content the message was taken from.
	Digest common.Hash
}

// DeadDrop reads and writes the slots shared with peers.  It holds no
// state between calls, so one DeadDrop may serve any number of
// conversations concurrently.
//
// A slot holds one message.  A write before the previous message was
// consumed replaces it; Send reports when that happened.
type DeadDrop struct {
	log  *logging.Logger
	auth *Authorities
	hs   handshake.Scheme
	rng  io.Reader
	self string
}

// NewDeadDrop returns a DeadDrop acting as self.
func NewDeadDrop(auth *Authorities, hs handshake.Scheme, rng io.Reader, self string, log *logging.Logger) *DeadDrop {
	return &DeadDrop{log: log, auth: auth, hs: hs, rng: rng, self: self}
}

func (d *DeadDrop) prove(m *rendezvous.Material) (tag, nonce, proof []byte, err error) {
	nonce = make([]byte, handshake.NonceSize)
	if _, err = io.ReadFull(d.rng, nonce); err != nil {
		return nil, nil, nil, err
	}
	if proof, err = d.hs.ProveWriteLocation(m.LocationTag, nonce, d.rng); err != nil {
		return nil, nil, nil, fault.New(fault.Crypto, "", "prove write location", err)
	}
	return m.LocationTag.Public(), nonce, proof, nil
}

// Send encrypts plaintext for the peer of m and writes it to the shared
// slot, then raises the unread flag of every identity in notify.  The
// write is attempted once.
func (d *DeadDrop) Send(ctx context.Context, m *rendezvous.Material, plaintext []byte, notify ...string) (bool, error) {
	iv, ciphertext, err := d.hs.EncryptMessage(m.SymmetricKey, m.WriteTag.Public(), plaintext, d.rng)
	if err != nil {
		return false, fault.New(fault.Crypto, "", "encrypt", err)
	}
	tag, nonce, proof, err := d.prove(m)
	if err != nil {
		return false, err
	}
	overwrote, err := d.auth.StoreWrite(ctx, &wire.StoreWriteRequest{
		Address:    m.Address.Hex(),
		Tag:        tag,
		Nonce:      nonce,
		Proof:      proof,
		IV:         iv,
		Ciphertext: ciphertext,
		Sender:     d.self,
	})
	if err != nil {
		return false, err
	}
	if overwrote {
		d.log.Warningf("Write to %v replaced a message that was never read.", m.Address.Hex())
	}
	for _, peer := range notify {
		if err = d.auth.MarkUnread(ctx, peer); err != nil {
			d.log.Warningf("Failed to raise the unread flag of %v: %v", peer, err)
		}
	}
	return overwrote, nil
}

// Receive takes the peer's message out of the shared slot.  It returns
// ErrNoMessage when the slot is empty or still holds our own write.  A
// message that fails to decrypt is reported and left in place, and a
// message written after the read is never deleted.
func (d *DeadDrop) Receive(ctx context.Context, m *rendezvous.Material) (*Inbound, error) {
	in, err := d.Peek(ctx, m)
	if err != nil {
		return nil, err
	}
	_, err = d.Delete(ctx, m, in.Digest[:])
	switch {
	case wire.IsCode(err, wire.CodeSlotChanged):
		d.log.Debugf("Slot %v was written again after the read, newer message kept.", m.Address.Hex())
	case err != nil:
		d.log.Warningf("Failed to delete consumed message at %v: %v", m.Address.Hex(), err)
	}
	return in, nil
}

// Peek reads and decrypts the peer's message without consuming it.
func (d *DeadDrop) Peek(ctx context.Context, m *rendezvous.Material) (*Inbound, error) {
	resp, err := d.auth.StoreRead(ctx, &wire.StoreReadRequest{Address: m.Address.Hex(), Caller: d.self})
	if err != nil {
		return nil, err
	}
	if !resp.Found || resp.Sender == d.self {
		return nil, ErrNoMessage
	}
	plaintext, err := d.hs.DecryptMessage(m.SymmetricKey, m.ReadTag.Public(), resp.IV, resp.Ciphertext)
	if err != nil {
		return nil, fault.New(fault.Crypto, config.RoleStore, "decrypt "+m.Address.Hex(), err)
	}
	return &Inbound{
		Sender:    resp.Sender,
		Plaintext: plaintext,
		WrittenAt: time.Unix(resp.WrittenAt, 0),
		Digest:    store.Digest(resp.IV, resp.Ciphertext),
	}, nil
}

// Delete empties the shared slot.  A non empty digest limits the delete
// to the message it names.
func (d *DeadDrop) Delete(ctx context.Context, m *rendezvous.Material, digest []byte) (bool, error) {
	tag, nonce, proof, err := d.prove(m)
	if err != nil {
		return false, err
	}
	return d.auth.StoreDelete(ctx, &wire.StoreDeleteRequest{
		Address: m.Address.Hex(),
		Tag:     tag,
		Nonce:   nonce,
		Proof:   proof,
		Caller:  d.self,
		Digest:  digest,
	})
}
