// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/rand"

	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/crypto/handshake"
	"github.com/arke-messenger/arke/crypto/idnike"
)

const (
	kindText   = "text"
	kindInvite = "invite"

	// envelopeOverhead bounds the cbor framing of a text envelope with
	// the longest sender identity.
	envelopeOverhead = 256

	// MaxTextSize is the largest text Send and SendGroup accept.  The
	// rest of handshake.MaxMessageSize is taken by the envelope.
	MaxTextSize = handshake.MaxMessageSize - envelopeOverhead
)

// GroupInvite hands a group's seed to a member over the pairwise slot.
type GroupInvite struct {
	Name    string   `cbor:"name"`
	Creator string   `cbor:"creator"`
	Members []string `cbor:"members"`
	Seed    []byte   `cbor:"seed"`
}

// envelope is the plaintext of every dead-drop message.  Group slots
// are shared by all members, so the sender travels inside.
type envelope struct {
	Kind   string       `cbor:"kind"`
	Sender string       `cbor:"sender"`
	Body   []byte       `cbor:"body,omitempty"`
	Invite *GroupInvite `cbor:"invite,omitempty"`
	SentAt int64        `cbor:"sent_at"`
}

// Message is a received message.
type Message struct {
	From   string
	Group  string
	Text   []byte
	Invite *GroupInvite
	SentAt time.Time
}

func encodeEnvelope(e *envelope) ([]byte, error) {
	e.SentAt = time.Now().Unix()
	return cbor.Marshal(e)
}

// textEnvelope encodes a text message from sender.
func textEnvelope(sender string, text []byte) ([]byte, error) {
	if len(text) > MaxTextSize {
		return nil, fmt.Errorf("%w: %d bytes, at most %d", ErrTextTooLarge, len(text), MaxTextSize)
	}
	return encodeEnvelope(&envelope{Kind: kindText, Sender: sender, Body: text})
}

func decodeMessage(in *Inbound, group string) (*Message, error) {
	e := new(envelope)
	if err := cbor.Unmarshal(in.Plaintext, e); err != nil {
		return nil, fault.New(fault.Protocol, in.Sender, "decode message", err)
	}
	if e.Sender != in.Sender {
		return nil, fault.New(fault.Protocol, in.Sender, "decode message", fmt.Errorf("envelope claims sender %q", e.Sender))
	}
	msg := &Message{From: e.Sender, Group: group, SentAt: time.Unix(e.SentAt, 0)}
	switch e.Kind {
	case kindText:
		msg.Text = e.Body
	case kindInvite:
		if e.Invite == nil {
			return nil, fault.New(fault.Protocol, in.Sender, "decode message", errors.New("invite without body"))
		}
		msg.Invite = e.Invite
	default:
		return nil, fault.New(fault.Protocol, in.Sender, "decode message", fmt.Errorf("unknown kind %q", e.Kind))
	}
	return msg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CreateGroup creates a group with a fresh seed and sends an invite to
// every member over the pairwise slot.  Members must be contacts.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*GroupRecord, error) {
	cred, contacts, dd, err := c.ready()
	if err != nil {
		return nil, err
	}
	if _, err = idnike.NewIdentity(name); err != nil {
		return nil, err
	}
	if !contains(members, cred.Identity) {
		members = append([]string{cred.Identity}, members...)
	}
	seed := make([]byte, idnike.SeedSize)
	if _, err = io.ReadFull(rand.Reader, seed); err != nil {
		return nil, err
	}
	inv := &GroupInvite{Name: name, Creator: cred.Identity, Members: members, Seed: seed}
	g, err := c.joinGroup(contacts, inv)
	if err != nil {
		return nil, err
	}

	for _, peer := range members {
		if peer == cred.Identity {
			continue
		}
		m, err := contacts.Material(peer)
		if err != nil {
			return nil, err
		}
		b, err := encodeEnvelope(&envelope{Kind: kindInvite, Sender: cred.Identity, Invite: inv})
		if err != nil {
			return nil, err
		}
		if _, err = dd.Send(ctx, m, b, peer); err != nil {
			return nil, fmt.Errorf("client: inviting %v: %w", peer, err)
		}
	}
	return g, nil
}

// JoinGroup records the group of an invite received from a contact.
func (c *Client) JoinGroup(inv *GroupInvite) (*GroupRecord, error) {
	cred, contacts, _, err := c.ready()
	if err != nil {
		return nil, err
	}
	if !contains(inv.Members, cred.Identity) {
		return nil, ErrNotMember
	}
	return c.joinGroup(contacts, inv)
}

func (c *Client) joinGroup(contacts *Contacts, inv *GroupInvite) (*GroupRecord, error) {
	g := &GroupRecord{
		Name:     inv.Name,
		Creator:  inv.Creator,
		Members:  inv.Members,
		Seed:     inv.Seed,
		JoinedAt: time.Now(),
	}
	m, err := contacts.groupMaterial(g)
	if err != nil {
		return nil, err
	}
	g.Address = m.Address
	if err = contacts.addGroup(g); err != nil {
		return nil, err
	}
	return g, nil
}

// SendGroup writes text to a group slot and raises the unread flag of
// the other members.
func (c *Client) SendGroup(ctx context.Context, name string, text []byte) (bool, error) {
	cred, contacts, dd, err := c.ready()
	if err != nil {
		return false, err
	}
	g, m, err := contacts.Group(name)
	if err != nil {
		return false, err
	}
	b, err := textEnvelope(cred.Identity, text)
	if err != nil {
		return false, err
	}
	notify := make([]string, 0, len(g.Members))
	for _, p := range g.Members {
		if p != cred.Identity {
			notify = append(notify, p)
		}
	}
	return dd.Send(ctx, m, b, notify...)
}

// ReceiveGroup takes the pending message of a group, if any.  The slot
// is left in place for the other members; a message already taken is
// reported as ErrNoMessage.
func (c *Client) ReceiveGroup(ctx context.Context, name string) (*Message, error) {
	_, contacts, dd, err := c.ready()
	if err != nil {
		return nil, err
	}
	g, m, err := contacts.Group(name)
	if err != nil {
		return nil, err
	}
	in, err := dd.Peek(ctx, m)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(g.LastRead, in.Digest[:]) {
		return nil, ErrNoMessage
	}
	if !contains(g.Members, in.Sender) {
		return nil, fault.New(fault.Protocol, in.Sender, "receive group "+name, ErrNotMember)
	}
	msg, err := decodeMessage(in, name)
	if err != nil {
		return nil, err
	}
	fresh, err := contacts.markGroupRead(name, in.Digest[:])
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrNoMessage
	}
	return msg, nil
}
