// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package handshake

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/arke-messenger/arke/crypto/idnike"
)

var (
	symmetricKeyInfo = []byte("arke handshake symmetric key v1")
	tagInfo          = []byte("arke handshake location tag v1")
	proofContext     = []byte("arke location proof v1")
)

type edwardsTag struct {
	x   *edwards25519.Scalar
	pub *edwards25519.Point
}

func (t *edwardsTag) Public() Tag {
	return t.pub.Bytes()
}

type edwardsScheme struct{}

// Edwards25519 returns the handshake over the edwards25519 group with
// XChaCha20-Poly1305 for message encryption.
func Edwards25519() Scheme {
	return edwardsScheme{}
}

func lengthPrefixed(fields ...[]byte) []byte {
	var out []byte
	for _, f := range fields {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(f)))
		out = append(out, l[:]...)
		out = append(out, f...)
	}
	return out
}

func (edwardsScheme) DeriveSymmetricKey(seed idnike.SharedSeed) ([]byte, error) {
	h, err := blake2b.New256(seed[:])
	if err != nil {
		return nil, err
	}
	h.Write(symmetricKeyInfo)
	return h.Sum(nil), nil
}

// writeTag derives the tag written by writer for reader.
func writeTag(seed idnike.SharedSeed, writer, reader idnike.Identity) (*edwardsTag, error) {
	if len(writer) == 0 || len(reader) == 0 {
		return nil, idnike.ErrInvalidIdentity
	}
	kdf := hkdf.New(sha512.New, seed[:], tagInfo, lengthPrefixed(writer, reader))
	var wide [64]byte
	if _, err := io.ReadFull(kdf, wide[:]); err != nil {
		return nil, err
	}
	x, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		return nil, err
	}
	return &edwardsTag{x: x, pub: new(edwards25519.Point).ScalarBaseMult(x)}, nil
}

func (edwardsScheme) DeriveWriteTag(seed idnike.SharedSeed, self, peer idnike.Identity) (TagKey, error) {
	return writeTag(seed, self, peer)
}

func (edwardsScheme) DeriveReadTag(seed idnike.SharedSeed, self, peer idnike.Identity) (TagKey, error) {
	return writeTag(seed, peer, self)
}

func challenge(r, tag, nonce []byte) (*edwards25519.Scalar, error) {
	h := sha512.Sum512(lengthPrefixed(proofContext, r, tag, nonce))
	return edwards25519.NewScalar().SetUniformBytes(h[:])
}

func randomScalar(rng io.Reader) (*edwards25519.Scalar, error) {
	var wide [64]byte
	if _, err := io.ReadFull(rng, wide[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(wide[:])
}

func (edwardsScheme) ProveWriteLocation(tag TagKey, nonce []byte, rng io.Reader) ([]byte, error) {
	t, ok := tag.(*edwardsTag)
	if !ok || t == nil {
		return nil, ErrInvalidTag
	}
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonce
	}
	k, err := randomScalar(rng)
	if err != nil {
		return nil, err
	}
	r := new(edwards25519.Point).ScalarBaseMult(k).Bytes()
	c, err := challenge(r, t.pub.Bytes(), nonce)
	if err != nil {
		return nil, err
	}
	// s = c*x + k
	s := edwards25519.NewScalar().MultiplyAdd(c, t.x, k)
	proof := make([]byte, 0, ProofSize)
	proof = append(proof, r...)
	return append(proof, s.Bytes()...), nil
}

func (edwardsScheme) VerifyWriteLocation(tag Tag, nonce, proof []byte) error {
	if len(nonce) != NonceSize {
		return ErrInvalidNonce
	}
	if len(proof) != ProofSize {
		return fmt.Errorf("%w: %d byte proof", ErrInvalidProof, len(proof))
	}
	pub, err := new(edwards25519.Point).SetBytes(tag)
	if err != nil || len(tag) != TagSize {
		return ErrInvalidTag
	}
	if pub.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return ErrInvalidTag
	}
	r, err := new(edwards25519.Point).SetBytes(proof[:32])
	if err != nil {
		return ErrInvalidProof
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(proof[32:])
	if err != nil {
		return ErrInvalidProof
	}
	c, err := challenge(proof[:32], tag, nonce)
	if err != nil {
		return err
	}

	// s*B == R + c*T  <=>  s*B - c*T == R
	negC := edwards25519.NewScalar().Negate(c)
	check := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(negC, pub, s)
	if check.Equal(r) != 1 {
		return ErrInvalidProof
	}
	return nil
}

func (edwardsScheme) EncryptMessage(key []byte, tag Tag, msg []byte, rng io.Reader) ([]byte, []byte, error) {
	if len(msg) > MaxMessageSize {
		return nil, nil, ErrMessageTooLarge
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rng, iv); err != nil {
		return nil, nil, err
	}
	return iv, aead.Seal(nil, iv, msg, tag), nil
}

func (edwardsScheme) DecryptMessage(key []byte, tag Tag, iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: %d byte iv", ErrDecrypt, len(iv))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	msg, err := aead.Open(nil, iv, ciphertext, tag)
	if err != nil {
		return nil, ErrDecrypt
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}
