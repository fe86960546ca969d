// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package replay detects reuse of single use nonces.
package replay

import (
	"errors"
	"io"
	"sync"

	"github.com/yawning/bloom"
)

// DefaultFalsePositiveRate is the default bloom filter false positive rate.
const DefaultFalsePositiveRate = 0.001

const minSizeLn2 = 10

// ErrReplayed is returned when a nonce was seen before.
var ErrReplayed = errors.New("replay: nonce already used")

// Filter is a two generation bloom filter.  When the current generation
// reaches capacity it becomes the previous one and a fresh generation is
// started, so a nonce is remembered for at least one full generation.
type Filter struct {
	sync.Mutex

	rand     io.Reader
	mLn2     int
	p        float64
	current  *bloom.Filter
	previous *bloom.Filter
	rotated  uint64
}

// New returns a Filter holding about capacity entries per generation.
func New(rand io.Reader, capacity int, p float64) (*Filter, error) {
	if p <= 0 || p >= 1 {
		p = DefaultFalsePositiveRate
	}
	if capacity < 1 {
		capacity = 1
	}
	f := &Filter{
		rand: rand,
		mLn2: max(bloom.DeriveSize(capacity, p), minSizeLn2),
		p:    p,
	}
	var err error
	if f.current, err = bloom.New(rand, f.mLn2, p); err != nil {
		return nil, err
	}
	return f, nil
}

// Check records nonce and returns ErrReplayed if it was already recorded.
func (f *Filter) Check(nonce []byte) error {
	f.Lock()
	defer f.Unlock()

	if f.previous != nil && f.previous.Test(nonce) {
		return ErrReplayed
	}
	if f.current.TestAndSet(nonce) {
		return ErrReplayed
	}
	if f.current.Entries() >= f.current.MaxEntries() {
		next, err := bloom.New(f.rand, f.mLn2, f.p)
		if err != nil {
			return err
		}
		f.previous = f.current
		f.current = next
		f.rotated++
	}
	return nil
}

// Stats returns the entries in the current generation, its capacity and
// the number of rotations so far.
func (f *Filter) Stats() (entries, capacity int, rotations uint64) {
	f.Lock()
	defer f.Unlock()
	return f.current.Entries(), f.current.MaxEntries(), f.rotated
}
