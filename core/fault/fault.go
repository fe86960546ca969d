// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package fault classifies failures of the multi-party protocols so that
// callers can tell which step failed, against which role, and whether
// trying again can help.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind uint8

const (
	// Transport is a connection refused, reset or timed out while talking
	// to an authority or the store.  Transport faults are retryable.
	Transport Kind = iota + 1

	// Protocol is a well formed refusal or an unusable answer from a
	// remote role, e.g. an identity that is already registered or too
	// few issuer shares.
	Protocol

	// Crypto is a failed proof, signature, pairing check or AEAD open.
	Crypto

	// LocalState is a failure to read or write local persisted state.
	LocalState
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Crypto:
		return "crypto"
	case LocalState:
		return "local state"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Role string
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s fault in %s: %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s fault in %s (%s): %v", e.Kind, e.Step, e.Role, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error.  If err is already an *Error it is
// returned unchanged so the innermost classification wins.
func New(kind Kind, role, step string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: kind, Role: role, Step: step, Err: err}
}

// KindOf returns the Kind of err, or zero if err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether repeating the same call may succeed.
func Retryable(err error) bool {
	return Is(err, Transport)
}
