// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package idnike

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/katzenpost/circl/ecc/bls12381"
	"golang.org/x/crypto/blake2b"
)

const (
	g1CompressedSize = 48
	g2CompressedSize = 96
	pairSize         = g1CompressedSize + g2CompressedSize
	scalarSize       = 32

	blsSchemeName = "BLS12-381-ARKE"
)

var (
	dstG1   = []byte("ARKE-V01-CS01-with-BLS12381G1_XMD:SHA-256_SSWU_RO_")
	dstG2   = []byte("ARKE-V01-CS01-with-BLS12381G2_XMD:SHA-256_SSWU_RO_")
	seedTag = []byte("arke shared seed v1")
)

type blsScheme struct{}

// BLS12381 returns the scheme over the BLS12-381 pairing.  Every key and
// attestation is a pair of a G1 and a G2 element so either party of a
// key exchange can evaluate the asymmetric pairing.
func BLS12381() Scheme {
	return blsScheme{}
}

// pointPair is an element of G1 x G2 with a shared discrete log.
type pointPair struct {
	p1 *bls12381.G1
	p2 *bls12381.G2
}

func (p *pointPair) bytes() []byte {
	out := make([]byte, 0, pairSize)
	out = append(out, p.p1.BytesCompressed()...)
	return append(out, p.p2.BytesCompressed()...)
}

func (p *pointPair) mul(k *bls12381.Scalar) *pointPair {
	out := &pointPair{p1: new(bls12381.G1), p2: new(bls12381.G2)}
	out.p1.ScalarMult(k, p.p1)
	out.p2.ScalarMult(k, p.p2)
	return out
}

func (p *pointPair) isIdentity() bool {
	return p.p1.IsIdentity() || p.p2.IsIdentity()
}

func decodePair(b []byte) (*pointPair, error) {
	if len(b) != pairSize {
		return nil, fmt.Errorf("%w: point pair of %d bytes", ErrMalformed, len(b))
	}
	p := &pointPair{p1: new(bls12381.G1), p2: new(bls12381.G2)}
	if err := p.p1.SetBytes(b[:g1CompressedSize]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := p.p2.SetBytes(b[g1CompressedSize:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

func generatorPair() *pointPair {
	return &pointPair{p1: bls12381.G1Generator(), p2: bls12381.G2Generator()}
}

func dst(base, domain []byte) []byte {
	out := make([]byte, 0, len(base)+len(domain))
	out = append(out, base...)
	return append(out, domain...)
}

func hashIdentity(id Identity, domain []byte) *pointPair {
	p := &pointPair{p1: new(bls12381.G1), p2: new(bls12381.G2)}
	p.p1.Hash(id, dst(dstG1, domain))
	p.p2.Hash(id, dst(dstG2, domain))
	return p
}

// sameLog checks that a and b are related by the same exponent as the
// generator and pk, in both groups.
func sameLog(a, b, pk *pointPair) bool {
	g := generatorPair()
	left1 := bls12381.Pair(b.p1, g.p2)
	right1 := bls12381.Pair(a.p1, pk.p2)
	if !left1.IsEqual(right1) {
		return false
	}
	left2 := bls12381.Pair(g.p1, b.p2)
	right2 := bls12381.Pair(pk.p1, a.p2)
	return left2.IsEqual(right2)
}

func randomScalar(rng io.Reader) (*bls12381.Scalar, error) {
	k := new(bls12381.Scalar)
	for {
		if err := k.Random(rng); err != nil {
			return nil, err
		}
		if k.IsZero() == 0 {
			return k, nil
		}
	}
}

func encodeScalar(k *bls12381.Scalar) ([]byte, error) {
	return k.MarshalBinary()
}

func decodeScalar(b []byte) (*bls12381.Scalar, error) {
	if len(b) != scalarSize {
		return nil, fmt.Errorf("%w: scalar of %d bytes", ErrMalformed, len(b))
	}
	k := new(bls12381.Scalar)
	if err := k.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return k, nil
}

func (blsScheme) Name() string {
	return blsSchemeName
}

func (blsScheme) SetupRegistration(rng io.Reader) (RegistrarSecretKey, RegistrarPublicKey, error) {
	k, err := randomScalar(rng)
	if err != nil {
		return nil, nil, err
	}
	sk, err := encodeScalar(k)
	if err != nil {
		return nil, nil, err
	}
	return sk, generatorPair().mul(k).bytes(), nil
}

func (blsScheme) SimulateDKG(threshold, n int, rng io.Reader) (*IssuanceParameters, []*IssuerSecretKey, []*IssuerPublicKey, error) {
	if threshold < 0 || n < 1 || threshold >= n {
		return nil, nil, nil, ErrInvalidParameters
	}
	coeffs := make([]*bls12381.Scalar, threshold+1)
	for i := range coeffs {
		c, err := randomScalar(rng)
		if err != nil {
			return nil, nil, nil, err
		}
		coeffs[i] = c
	}

	g := generatorPair()
	pp := &IssuanceParameters{
		N:               n,
		Threshold:       threshold,
		MasterPublicKey: g.mul(coeffs[0]).bytes(),
	}
	secrets := make([]*IssuerSecretKey, 0, n)
	publics := make([]*IssuerPublicKey, 0, n)
	for i := 1; i <= n; i++ {
		s := evalPolynomial(coeffs, uint64(i))
		raw, err := encodeScalar(s)
		if err != nil {
			return nil, nil, nil, err
		}
		secrets = append(secrets, &IssuerSecretKey{Index: uint32(i), Key: raw})
		publics = append(publics, &IssuerPublicKey{Index: uint32(i), Key: g.mul(s).bytes()})
	}
	return pp, secrets, publics, nil
}

func (blsScheme) Register(sk RegistrarSecretKey, id Identity, domain []byte) (Attestation, error) {
	if len(id) == 0 {
		return nil, ErrInvalidIdentity
	}
	k, err := decodeScalar(sk)
	if err != nil {
		return nil, err
	}
	return hashIdentity(id, domain).mul(k).bytes(), nil
}

func (blsScheme) VerifyAttestation(pk RegistrarPublicKey, id Identity, domain []byte, att Attestation) error {
	regPK, err := decodePair(pk)
	if err != nil {
		return err
	}
	a, err := decodePair(att)
	if err != nil {
		return err
	}
	if a.isIdentity() || !sameLog(hashIdentity(id, domain), a, regPK) {
		return ErrInvalidAttestation
	}
	return nil
}

func (s blsScheme) Blind(pk RegistrarPublicKey, id Identity, domain []byte, att Attestation, rng io.Reader) (*BlindingContext, *BlindRequest, error) {
	if err := s.VerifyAttestation(pk, id, domain, att); err != nil {
		return nil, nil, err
	}
	a, err := decodePair(att)
	if err != nil {
		return nil, nil, err
	}
	r, err := randomScalar(rng)
	if err != nil {
		return nil, nil, err
	}
	factor, err := encodeScalar(r)
	if err != nil {
		return nil, nil, err
	}
	req := &BlindRequest{
		BlindID:          hashIdentity(id, domain).mul(r).bytes(),
		BlindAttestation: a.mul(r).bytes(),
	}
	return &BlindingContext{factor: factor, request: req}, req, nil
}

func (blsScheme) BlindPartialExtract(share *IssuerSecretKey, pk RegistrarPublicKey, req *BlindRequest) (*BlindPartialKey, error) {
	if share == nil || share.Index == 0 || req == nil {
		return nil, ErrInvalidParameters
	}
	si, err := decodeScalar(share.Key)
	if err != nil {
		return nil, err
	}
	regPK, err := decodePair(pk)
	if err != nil {
		return nil, err
	}
	bid, err := decodePair(req.BlindID)
	if err != nil {
		return nil, err
	}
	batt, err := decodePair(req.BlindAttestation)
	if err != nil {
		return nil, err
	}
	if bid.isIdentity() || batt.isIdentity() || !sameLog(bid, batt, regPK) {
		return nil, ErrInvalidBlindRequest
	}
	return &BlindPartialKey{Index: share.Index, Key: bid.mul(si).bytes()}, nil
}

func (blsScheme) VerifyBlindPartialKey(pk *IssuerPublicKey, req *BlindRequest, bpk *BlindPartialKey) error {
	if pk == nil || req == nil || bpk == nil {
		return ErrInvalidPartialKey
	}
	if pk.Index != bpk.Index {
		return fmt.Errorf("%w: index %d answered for issuer %d", ErrInvalidPartialKey, bpk.Index, pk.Index)
	}
	ipk, err := decodePair(pk.Key)
	if err != nil {
		return err
	}
	bid, err := decodePair(req.BlindID)
	if err != nil {
		return err
	}
	k, err := decodePair(bpk.Key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPartialKey, err)
	}
	if k.isIdentity() || !sameLog(bid, k, ipk) {
		return ErrInvalidPartialKey
	}
	return nil
}

func (blsScheme) Unblind(ctx *BlindingContext, bpk *BlindPartialKey) (*PartialKey, error) {
	if ctx == nil || ctx.factor == nil {
		return nil, ErrBlindingDiscarded
	}
	if bpk == nil {
		return nil, ErrInvalidPartialKey
	}
	r, err := decodeScalar(ctx.factor)
	if err != nil {
		return nil, err
	}
	k, err := decodePair(bpk.Key)
	if err != nil {
		return nil, err
	}
	rInv := new(bls12381.Scalar)
	rInv.Inv(r)
	return &PartialKey{Index: bpk.Index, Key: k.mul(rInv).bytes()}, nil
}

func (blsScheme) Combine(partials []*PartialKey, threshold int) (UserSecretKey, error) {
	if threshold < 0 {
		return nil, ErrInvalidParameters
	}
	sorted, err := sortPartials(partials)
	if err != nil {
		return nil, err
	}
	if len(sorted) < threshold+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(sorted), threshold+1)
	}

	indices := make([]uint32, len(sorted))
	for i, p := range sorted {
		indices[i] = p.Index
	}
	lambdas := lagrangeAtZero(indices)

	acc := &pointPair{p1: new(bls12381.G1), p2: new(bls12381.G2)}
	acc.p1.SetIdentity()
	acc.p2.SetIdentity()
	for i, p := range sorted {
		pt, err := decodePair(p.Key)
		if err != nil {
			return nil, err
		}
		term := pt.mul(lambdas[i])
		sum := &pointPair{p1: new(bls12381.G1), p2: new(bls12381.G2)}
		sum.p1.Add(acc.p1, term.p1)
		sum.p2.Add(acc.p2, term.p2)
		acc = sum
	}
	return acc.bytes(), nil
}

func (blsScheme) VerifyUserSecretKey(pp *IssuanceParameters, id Identity, domain []byte, sk UserSecretKey) error {
	if err := pp.Validate(); err != nil {
		return err
	}
	mpk, err := decodePair(pp.MasterPublicKey)
	if err != nil {
		return err
	}
	k, err := decodePair(sk)
	if err != nil {
		return err
	}
	if k.isIdentity() || !sameLog(hashIdentity(id, domain), k, mpk) {
		return ErrInvalidUserSecretKey
	}
	return nil
}

func (blsScheme) SharedKey(sk UserSecretKey, self, peer Identity, domain []byte) (SharedSeed, error) {
	var seed SharedSeed
	k, err := decodePair(sk)
	if err != nil {
		return seed, err
	}
	if len(self) == 0 || len(peer) == 0 {
		return seed, ErrInvalidIdentity
	}

	// The smaller identity contributes the G1 side, so both ends
	// evaluate e(H1(lo)^s, H2(hi)).
	var gt *bls12381.Gt
	lo, hi := self, peer
	switch {
	case self.Equal(peer):
		return seed, ErrSelfKeyExchange
	case self.Less(peer):
		gt = bls12381.Pair(k.p1, hashIdentity(peer, domain).p2)
	default:
		lo, hi = peer, self
		gt = bls12381.Pair(hashIdentity(peer, domain).p1, k.p2)
	}
	raw, err := gt.MarshalBinary()
	if err != nil {
		return seed, err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return seed, err
	}
	for _, field := range [][]byte{seedTag, domain, lo, hi, raw} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(field)))
		h.Write(l[:])
		h.Write(field)
	}
	copy(seed[:], h.Sum(nil))
	return seed, nil
}
