// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package rendezvous maps a pair of identities to the single dead-drop
// address both of them use, without any communication between them.
package rendezvous

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arke-messenger/arke/crypto/handshake"
	"github.com/arke-messenger/arke/crypto/idnike"
)

// addressConstant is hashed after the tag so store addresses live in
// their own domain.
const addressConstant = "constant"

// ErrSameIdentity is returned when resolving an identity with itself.
var ErrSameIdentity = errors.New("rendezvous: peer is the local identity")

// Material is everything one side needs to talk to one peer.  It is a
// deterministic function of the credential and the two identities, so it
// can always be recomputed.
type Material struct {
	Self idnike.Identity
	Peer idnike.Identity

	SymmetricKey []byte

	// WriteTag authenticates what Self writes, ReadTag what Peer writes.
	WriteTag handshake.TagKey
	ReadTag  handshake.TagKey

	// LocationTag is the tag hashed into Address.  Both sides hold its
	// discrete log and prove ownership of it when writing.
	LocationTag handshake.TagKey

	Address common.Address
}

// Address hashes the canonical encoding of tag into a store address.
func Address(tag handshake.Tag) common.Address {
	return common.BytesToAddress(crypto.Keccak256(encodeField(tag), encodeField([]byte(addressConstant)))[:common.AddressLength])
}

// encodeField is a little endian 64 bit length followed by the bytes.
func encodeField(b []byte) []byte {
	out := make([]byte, 8, 8+len(b))
	binary.LittleEndian.PutUint64(out, uint64(len(b)))
	return append(out, b...)
}

// Resolver derives rendezvous material.
type Resolver struct {
	IDNIKE    idnike.Scheme
	Handshake handshake.Scheme
	Domain    []byte
}

// New returns a Resolver over the default schemes and domain.
func New() *Resolver {
	return &Resolver{
		IDNIKE:    idnike.BLS12381(),
		Handshake: handshake.Edwards25519(),
		Domain:    idnike.RegistrationDomain,
	}
}

// Resolve derives the material between self, holding sk, and peer.  The
// lexicographically smaller identity's write tag is the location tag, so
// both ends pick the same address.
func (r *Resolver) Resolve(sk idnike.UserSecretKey, self, peer idnike.Identity) (*Material, error) {
	if self.Equal(peer) {
		return nil, ErrSameIdentity
	}
	seed, err := r.IDNIKE.SharedKey(sk, self, peer, r.Domain)
	if err != nil {
		return nil, err
	}
	return r.fromSeed(seed, self, peer)
}

func (r *Resolver) fromSeed(seed idnike.SharedSeed, self, peer idnike.Identity) (*Material, error) {
	key, err := r.Handshake.DeriveSymmetricKey(seed)
	if err != nil {
		return nil, err
	}
	wt, err := r.Handshake.DeriveWriteTag(seed, self, peer)
	if err != nil {
		return nil, err
	}
	rt, err := r.Handshake.DeriveReadTag(seed, self, peer)
	if err != nil {
		return nil, err
	}
	m := &Material{
		Self:         self,
		Peer:         peer,
		SymmetricKey: key,
		WriteTag:     wt,
		ReadTag:      rt,
	}
	if self.Less(peer) || self.Equal(peer) {
		m.LocationTag = wt
	} else {
		m.LocationTag = rt
	}
	m.Address = Address(m.LocationTag.Public())
	return m, nil
}

// ResolveGroup derives the material of a group from the seed its creator
// handed out.  The group name stands in for the peer and the write tag
// doubles as the read tag, since every member writes to the same slot.
func (r *Resolver) ResolveGroup(seed idnike.SharedSeed, self, group idnike.Identity) (*Material, error) {
	m, err := r.fromSeed(seed, group, group)
	if err != nil {
		return nil, err
	}
	m.Self = self
	return m, nil
}
