// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package idnike

import (
	"fmt"
	"sort"

	"github.com/katzenpost/circl/ecc/bls12381"
)

// evalPolynomial evaluates coeffs at x with Horner's rule.
func evalPolynomial(coeffs []*bls12381.Scalar, x uint64) *bls12381.Scalar {
	xs := new(bls12381.Scalar)
	xs.SetUint64(x)
	acc := new(bls12381.Scalar)
	acc.Set(coeffs[len(coeffs)-1])
	for i := len(coeffs) - 2; i >= 0; i-- {
		t := new(bls12381.Scalar)
		t.Mul(acc, xs)
		acc.Add(t, coeffs[i])
	}
	return acc
}

// lagrangeAtZero returns the coefficients l_i = prod_{j != i} x_j / (x_j - x_i)
// for distinct, non zero indices.
func lagrangeAtZero(indices []uint32) []*bls12381.Scalar {
	out := make([]*bls12381.Scalar, len(indices))
	for i, xi := range indices {
		num := new(bls12381.Scalar)
		num.SetOne()
		den := new(bls12381.Scalar)
		den.SetOne()

		si := new(bls12381.Scalar)
		si.SetUint64(uint64(xi))
		for j, xj := range indices {
			if i == j {
				continue
			}
			sj := new(bls12381.Scalar)
			sj.SetUint64(uint64(xj))

			n := new(bls12381.Scalar)
			n.Mul(num, sj)
			num = n

			diff := new(bls12381.Scalar)
			diff.Sub(sj, si)
			d := new(bls12381.Scalar)
			d.Mul(den, diff)
			den = d
		}
		inv := new(bls12381.Scalar)
		inv.Inv(den)
		l := new(bls12381.Scalar)
		l.Mul(num, inv)
		out[i] = l
	}
	return out
}

// sortPartials returns the partial keys ordered by index, rejecting nil
// entries, index zero and duplicates.
func sortPartials(partials []*PartialKey) ([]*PartialKey, error) {
	sorted := make([]*PartialKey, 0, len(partials))
	for _, p := range partials {
		if p == nil || p.Index == 0 {
			return nil, fmt.Errorf("%w: missing or zero index", ErrInvalidPartialKey)
		}
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Index == sorted[i-1].Index {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateShare, sorted[i].Index)
		}
	}
	return sorted, nil
}
