// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package userdb defines the Arke user directory database abstract
// interface.
package userdb

import (
	"errors"
	"time"
)

var (
	// ErrNoSuchUser is the error returned when an operation fails due to
	// a non-existent user.
	ErrNoSuchUser = errors.New("userdb: no such user")

	// ErrUserExists is returned when adding an identity twice.
	ErrUserExists = errors.New("userdb: user already exists")

	// ErrStaleSession is returned when the session token is not the
	// user's current one.
	ErrStaleSession = errors.New("userdb: stale session token")
)

// User is one directory entry.
type User struct {
	IDString     string `cbor:"id"`
	RegisteredAt int64  `cbor:"registered_at"`
	SessionToken string `cbor:"session"`
	Unread       bool   `cbor:"unread"`
}

// UserDB is the interface provided by all user database implementations.
// Every method is a single read-modify-write transaction.
type UserDB interface {
	// Exists returns true iff the user exists.
	Exists(id string) bool

	// Add adds the user and starts its first session, returning the
	// session token.  Adding an existing user fails with ErrUserExists.
	Add(id string, now time.Time) (string, error)

	// Get returns the user.
	Get(id string) (*User, error)

	// RotateSession replaces the user's session token.
	RotateSession(id string) (string, error)

	// Unread returns the unread flag.  The token must be current.
	Unread(id, token string) (bool, error)

	// MarkUnread sets the unread flag.  Any peer may do this.
	MarkUnread(id string) error

	// ClearUnread clears the unread flag.  The token must be current.
	ClearUnread(id, token string) error

	// Close closes the UserDB instance.
	Close()
}
