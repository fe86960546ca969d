// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package idnike defines the threshold, oblivious identity based
// non-interactive key exchange used to issue Arke credentials.
//
// A registrar attests identities, a pool of N key issuing authorities each
// hold one Shamir share of the master key, and a client obtains its user
// secret key by blinding its identity, collecting at least Threshold+1
// blind partial keys, unblinding them and combining them.  Two holders of
// user secret keys derive the same shared seed from each other's public
// identity without exchanging a message.
package idnike

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxIdentityLength is the longest accepted identity.
	MaxIdentityLength = 64

	// RandomIdentityLength is the length of generated identities.
	RandomIdentityLength = 8

	// SeedSize is the size of a SharedSeed.
	SeedSize = 32
)

// RegistrationDomain is the default registrar domain separator.
var RegistrationDomain = []byte("registration")

var (
	ErrInvalidIdentity      = errors.New("idnike: invalid identity")
	ErrMalformed            = errors.New("idnike: malformed encoding")
	ErrInvalidAttestation   = errors.New("idnike: registration attestation does not verify")
	ErrInvalidBlindRequest  = errors.New("idnike: blinded attestation does not verify")
	ErrInvalidPartialKey    = errors.New("idnike: blind partial key does not verify")
	ErrInsufficientShares   = errors.New("idnike: not enough partial keys to combine")
	ErrDuplicateShare       = errors.New("idnike: duplicate partial key index")
	ErrInvalidUserSecretKey = errors.New("idnike: user secret key does not verify")
	ErrSelfKeyExchange      = errors.New("idnike: shared key with own identity")
	ErrInvalidParameters    = errors.New("idnike: invalid threshold parameters")
	ErrBlindingDiscarded    = errors.New("idnike: blinding context already discarded")
)

// Identity is the public identifier of a user.  It is derived from an
// alphanumeric string and never changes.
type Identity []byte

// NewIdentity validates s and returns the corresponding Identity.
func NewIdentity(s string) (Identity, error) {
	if len(s) == 0 || len(s) > MaxIdentityLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidIdentity, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return nil, fmt.Errorf("%w: %q is not alphanumeric", ErrInvalidIdentity, s)
		}
	}
	return Identity(s), nil
}

// MustIdentity is NewIdentity that panics, for constants and tests.
func MustIdentity(s string) Identity {
	id, err := NewIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

const identityAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomIdentity returns a fresh RandomIdentityLength character identity.
func RandomIdentity(rng io.Reader) (Identity, error) {
	var raw [RandomIdentityLength]byte
	id := make(Identity, RandomIdentityLength)
	for i := 0; i < RandomIdentityLength; {
		if _, err := io.ReadFull(rng, raw[:1]); err != nil {
			return nil, err
		}
		// 62*4 = 248, reject above to stay uniform.
		if raw[0] >= 248 {
			continue
		}
		id[i] = identityAlphabet[int(raw[0])%len(identityAlphabet)]
		i++
	}
	return id, nil
}

func (id Identity) String() string {
	return string(id)
}

// Less orders identities lexicographically.
func (id Identity) Less(other Identity) bool {
	return bytes.Compare(id, other) < 0
}

// Equal reports whether both identities are the same.
func (id Identity) Equal(other Identity) bool {
	return bytes.Equal(id, other)
}

type (
	// RegistrarSecretKey is the registration authority's signing key.
	RegistrarSecretKey []byte

	// RegistrarPublicKey verifies registration attestations.
	RegistrarPublicKey []byte

	// Attestation is the registrar's statement that an identity was
	// registered for a domain.
	Attestation []byte

	// UserSecretKey is the combined credential.  It is the only long
	// lived client secret.
	UserSecretKey []byte

	// SharedSeed is the output of the key exchange between two identities.
	SharedSeed [SeedSize]byte
)

// IssuanceParameters are the public parameters of the issuer pool.
type IssuanceParameters struct {
	N               int
	Threshold       int
	MasterPublicKey []byte
}

// Validate checks the threshold relation.
func (p *IssuanceParameters) Validate() error {
	if p == nil || p.Threshold < 0 || p.N < 1 || p.Threshold >= p.N || len(p.MasterPublicKey) == 0 {
		return ErrInvalidParameters
	}
	return nil
}

// IssuerSecretKey is one Shamir share of the master key.  Index is the
// evaluation point and starts at 1.
type IssuerSecretKey struct {
	Index uint32
	Key   []byte
}

// IssuerPublicKey commits to one IssuerSecretKey.
type IssuerPublicKey struct {
	Index uint32
	Key   []byte
}

// BlindRequest is what a client sends to the issuers.  It reveals nothing
// about the identity.
type BlindRequest struct {
	BlindID          []byte
	BlindAttestation []byte
}

// BlindPartialKey is one issuer's answer to a BlindRequest.
type BlindPartialKey struct {
	Index uint32
	Key   []byte
}

// PartialKey is an unblinded BlindPartialKey.
type PartialKey struct {
	Index uint32
	Key   []byte
}

// BlindingContext is the per attempt secret linking a BlindRequest to the
// identity.  It has no exported fields and no encoding; it lives in memory
// for one issuance attempt and must never be persisted.
type BlindingContext struct {
	factor  []byte
	request *BlindRequest
}

// Request returns the blinded request this context was created with.
func (c *BlindingContext) Request() *BlindRequest {
	return c.request
}

// Discard zeroes the blinding factor.
func (c *BlindingContext) Discard() {
	if c == nil {
		return
	}
	for i := range c.factor {
		c.factor[i] = 0
	}
	c.factor = nil
}

// Scheme is the identity exchange capability.
type Scheme interface {
	// Name returns the scheme name.
	Name() string

	// SetupRegistration generates a registrar key pair.
	SetupRegistration(rng io.Reader) (RegistrarSecretKey, RegistrarPublicKey, error)

	// SimulateDKG deals n issuer shares of a fresh master key with the
	// given threshold.  It stands in for a distributed key generation.
	SimulateDKG(threshold, n int, rng io.Reader) (*IssuanceParameters, []*IssuerSecretKey, []*IssuerPublicKey, error)

	// Register attests id for domain.
	Register(sk RegistrarSecretKey, id Identity, domain []byte) (Attestation, error)

	// VerifyAttestation checks an attestation against the registrar key.
	VerifyAttestation(pk RegistrarPublicKey, id Identity, domain []byte, att Attestation) error

	// Blind verifies att and blinds it together with id, using fresh
	// randomness from rng.
	Blind(pk RegistrarPublicKey, id Identity, domain []byte, att Attestation, rng io.Reader) (*BlindingContext, *BlindRequest, error)

	// BlindPartialExtract verifies the blinded attestation against the
	// registrar key and applies one issuer share to the blinded identity.
	BlindPartialExtract(share *IssuerSecretKey, pk RegistrarPublicKey, req *BlindRequest) (*BlindPartialKey, error)

	// VerifyBlindPartialKey checks an issuer's answer against its
	// public key.
	VerifyBlindPartialKey(pk *IssuerPublicKey, req *BlindRequest, bpk *BlindPartialKey) error

	// Unblind removes the blinding factor from an issuer's answer.
	Unblind(ctx *BlindingContext, bpk *BlindPartialKey) (*PartialKey, error)

	// Combine interpolates at least threshold+1 partial keys into the
	// user secret key.  The result does not depend on the order of
	// partials nor on which valid subset is given.
	Combine(partials []*PartialKey, threshold int) (UserSecretKey, error)

	// VerifyUserSecretKey checks a combined key against the master
	// public key.
	VerifyUserSecretKey(pp *IssuanceParameters, id Identity, domain []byte, sk UserSecretKey) error

	// SharedKey derives the seed shared between self and peer.
	SharedKey(sk UserSecretKey, self, peer Identity, domain []byte) (SharedSeed, error)
}
