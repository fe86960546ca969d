// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package handshake turns a shared seed into the material two peers use
// on the dead-drop store: a symmetric key, a pair of directional tags,
// proofs of tag ownership and authenticated encryption bound to a tag.
package handshake

import (
	"errors"
	"io"

	"github.com/arke-messenger/arke/crypto/idnike"
)

const (
	// KeySize is the size of a symmetric key.
	KeySize = 32

	// TagSize is the size of an encoded Tag.
	TagSize = 32

	// ProofSize is the size of a location proof.
	ProofSize = 64

	// NonceSize is the size of a location proof nonce.
	NonceSize = 32

	// IVSize is the size of the AEAD nonce.
	IVSize = 24

	// MaxMessageSize is the largest plaintext EncryptMessage accepts.
	MaxMessageSize = 64 * 1024
)

var (
	ErrInvalidTag      = errors.New("handshake: invalid tag")
	ErrInvalidProof    = errors.New("handshake: location proof does not verify")
	ErrInvalidNonce    = errors.New("handshake: invalid nonce")
	ErrMessageTooLarge = errors.New("handshake: message too large")
	ErrDecrypt         = errors.New("handshake: message authentication failed")
)

// Tag is the public form of a location tag.
type Tag []byte

// TagKey is a location tag together with its discrete log.  Whoever
// holds the TagKey may prove ownership of the Tag.
type TagKey interface {
	// Public returns the encoded tag.
	Public() Tag
}

// Scheme is the handshake capability.
type Scheme interface {
	// DeriveSymmetricKey derives the pairwise encryption key.
	DeriveSymmetricKey(seed idnike.SharedSeed) ([]byte, error)

	// DeriveWriteTag derives the tag self writes under towards peer.
	DeriveWriteTag(seed idnike.SharedSeed, self, peer idnike.Identity) (TagKey, error)

	// DeriveReadTag derives the tag self reads under from peer.  It
	// always equals DeriveWriteTag(seed, peer, self).
	DeriveReadTag(seed idnike.SharedSeed, self, peer idnike.Identity) (TagKey, error)

	// ProveWriteLocation proves knowledge of tag's discrete log, bound to
	// a single use nonce.
	ProveWriteLocation(tag TagKey, nonce []byte, rng io.Reader) ([]byte, error)

	// VerifyWriteLocation checks a proof from ProveWriteLocation.  It is
	// stateless; nonce freshness is the verifier's concern.
	VerifyWriteLocation(tag Tag, nonce, proof []byte) error

	// EncryptMessage seals msg under key with tag as associated data.
	EncryptMessage(key []byte, tag Tag, msg []byte, rng io.Reader) (iv, ciphertext []byte, err error)

	// DecryptMessage opens a ciphertext produced by EncryptMessage.
	DecryptMessage(key []byte, tag Tag, iv, ciphertext []byte) ([]byte, error)
}
