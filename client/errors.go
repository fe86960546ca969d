// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import "errors"

var (
	// ErrIdentityTaken is returned when the directory already lists the
	// identity being issued.
	ErrIdentityTaken = errors.New("client: identity is already in use")

	// ErrInsufficientShares is returned when fewer than threshold+1
	// issuers returned a verified blind partial key.
	ErrInsufficientShares = errors.New("client: not enough valid issuer shares")

	// ErrInconsistentParameters is returned by an issuer whose public
	// parameters disagree with the rest of the pool.
	ErrInconsistentParameters = errors.New("client: issuer parameters disagree with the pool")

	// ErrNoCredential is returned when an operation needs a credential
	// and none was issued yet.
	ErrNoCredential = errors.New("client: no credential")

	// ErrNoMessage is returned by Receive when the slot holds nothing
	// from the peer.
	ErrNoMessage = errors.New("client: no message")

	// ErrUnknownContact is returned for a peer or group that is not in
	// the contact book.
	ErrUnknownContact = errors.New("client: unknown contact")

	// ErrContactMismatch is returned when a persisted contact record no
	// longer matches the material derived from the credential.
	ErrContactMismatch = errors.New("client: contact record does not match credential")

	// ErrStateVerify is returned when a state file does not read back as
	// written.
	ErrStateVerify = errors.New("client: state file verification failed")

	// ErrDecryptState is returned for a state file that does not open
	// with the passphrase.
	ErrDecryptState = errors.New("client: failed to decrypt state file")

	// ErrTextTooLarge is returned by Send and SendGroup for a text over
	// MaxTextSize.
	ErrTextTooLarge = errors.New("client: text is too large")

	// ErrNotMember is returned when joining a group invite that does not
	// list the local identity.
	ErrNotMember = errors.New("client: not a member of the group")
)
