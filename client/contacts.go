// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/rendezvous"
)

// ContactRecord is what is kept about a discovered peer.
type ContactRecord struct {
	Peer         string         `cbor:"peer"`
	Address      common.Address `cbor:"address"`
	SymmetricKey []byte         `cbor:"symmetric_key"`
	WriteTag     []byte         `cbor:"write_tag"`
	ReadTag      []byte         `cbor:"read_tag"`
	DiscoveredAt time.Time      `cbor:"discovered_at"`
}

// GroupRecord is what is kept about a joined group.  Seed is the shared
// secret handed out by the creator.  LastRead is the digest of the last
// group message taken, since group slots are not emptied by readers.
type GroupRecord struct {
	Name     string         `cbor:"name"`
	Creator  string         `cbor:"creator"`
	Members  []string       `cbor:"members"`
	Seed     []byte         `cbor:"seed"`
	Address  common.Address `cbor:"address"`
	JoinedAt time.Time      `cbor:"joined_at"`
	LastRead []byte         `cbor:"last_read,omitempty"`
}

// ContactBook is the persisted set of contacts and groups.
type ContactBook struct {
	Contacts map[string]*ContactRecord `cbor:"contacts"`
	Groups   map[string]*GroupRecord   `cbor:"groups"`
}

func decodeBook(b []byte) (*ContactBook, error) {
	book := &ContactBook{}
	if len(b) > 0 {
		if err := cbor.Unmarshal(b, book); err != nil {
			return nil, err
		}
	}
	if book.Contacts == nil {
		book.Contacts = make(map[string]*ContactRecord)
	}
	if book.Groups == nil {
		book.Groups = make(map[string]*GroupRecord)
	}
	return book, nil
}

// Peers returns the contact identities in order.
func (b *ContactBook) Peers() []string {
	peers := make([]string, 0, len(b.Contacts))
	for p := range b.Contacts {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Addresses returns the slot address of every contact and group.
func (b *ContactBook) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(b.Contacts)+len(b.Groups))
	for _, p := range b.Peers() {
		addrs = append(addrs, b.Contacts[p].Address)
	}
	for _, g := range b.Groups {
		addrs = append(addrs, g.Address)
	}
	return addrs
}

// Contacts manages the contact book of one credential.
type Contacts struct {
	log      *logging.Logger
	auth     *Authorities
	resolver *rendezvous.Resolver
	cred     *Credential
	w        *StateWriter
}

// NewContacts returns the contact book manager over w.
func NewContacts(auth *Authorities, resolver *rendezvous.Resolver, cred *Credential, w *StateWriter, log *logging.Logger) *Contacts {
	return &Contacts{log: log, auth: auth, resolver: resolver, cred: cred, w: w}
}

// Book loads the contact book.
func (c *Contacts) Book() (*ContactBook, error) {
	b, err := c.w.Load()
	if err != nil {
		return nil, err
	}
	book, err := decodeBook(b)
	if err != nil {
		return nil, fault.New(fault.LocalState, stateRole, "decode contact book", err)
	}
	return book, nil
}

// update runs fn on the freshly loaded book and persists the result.
func (c *Contacts) update(fn func(book *ContactBook) error) error {
	return c.w.Update(func(cur []byte) ([]byte, error) {
		book, err := decodeBook(cur)
		if err != nil {
			return nil, fault.New(fault.LocalState, stateRole, "decode contact book", err)
		}
		if err = fn(book); err != nil {
			return nil, err
		}
		return cbor.Marshal(book)
	})
}

// Discover looks peer up in the directory, derives the pairwise material
// and records the contact.
func (c *Contacts) Discover(ctx context.Context, peer string) (*ContactRecord, error) {
	peerID, err := idnike.NewIdentity(peer)
	if err != nil {
		return nil, err
	}
	if _, err = c.auth.FindUser(ctx, peer); err != nil {
		return nil, err
	}
	m, err := c.resolver.Resolve(c.cred.Key, c.cred.ID(), peerID)
	if err != nil {
		return nil, fault.New(fault.Crypto, "", "resolve "+peer, err)
	}
	rec := &ContactRecord{
		Peer:         peer,
		Address:      m.Address,
		SymmetricKey: m.SymmetricKey,
		WriteTag:     m.WriteTag.Public(),
		ReadTag:      m.ReadTag.Public(),
		DiscoveredAt: time.Now(),
	}
	if err = c.update(func(book *ContactBook) error {
		if old, ok := book.Contacts[peer]; ok {
			rec.DiscoveredAt = old.DiscoveredAt
		}
		book.Contacts[peer] = rec
		return nil
	}); err != nil {
		return nil, err
	}
	c.log.Noticef("Discovered %v at %v.", peer, rec.Address.Hex())
	return rec, nil
}

// Remove deletes peer from the contact book.
func (c *Contacts) Remove(peer string) error {
	return c.update(func(book *ContactBook) error {
		if _, ok := book.Contacts[peer]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownContact, peer)
		}
		delete(book.Contacts, peer)
		return nil
	})
}

// Material rederives the material of a recorded contact and checks it
// against the record.
func (c *Contacts) Material(peer string) (*rendezvous.Material, error) {
	book, err := c.Book()
	if err != nil {
		return nil, err
	}
	rec, ok := book.Contacts[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContact, peer)
	}
	m, err := c.resolver.Resolve(c.cred.Key, c.cred.ID(), idnike.Identity(peer))
	if err != nil {
		return nil, fault.New(fault.Crypto, "", "resolve "+peer, err)
	}
	if m.Address != rec.Address || !bytes.Equal(m.WriteTag.Public(), rec.WriteTag) || !bytes.Equal(m.ReadTag.Public(), rec.ReadTag) {
		return nil, fault.New(fault.LocalState, stateRole, "contact "+peer, ErrContactMismatch)
	}
	return m, nil
}

// addGroup records a group.
func (c *Contacts) addGroup(g *GroupRecord) error {
	return c.update(func(book *ContactBook) error {
		book.Groups[g.Name] = g
		return nil
	})
}

// markGroupRead records digest as the last message taken from a group.
// It reports false when that message was already taken.
func (c *Contacts) markGroupRead(name string, digest []byte) (bool, error) {
	fresh := false
	err := c.update(func(book *ContactBook) error {
		g, ok := book.Groups[name]
		if !ok {
			return fmt.Errorf("%w: group %s", ErrUnknownContact, name)
		}
		if bytes.Equal(g.LastRead, digest) {
			return nil
		}
		g.LastRead = digest
		fresh = true
		return nil
	})
	return fresh, err
}

// RemoveGroup deletes a group from the contact book.
func (c *Contacts) RemoveGroup(name string) error {
	return c.update(func(book *ContactBook) error {
		if _, ok := book.Groups[name]; !ok {
			return fmt.Errorf("%w: group %s", ErrUnknownContact, name)
		}
		delete(book.Groups, name)
		return nil
	})
}

// Group returns a recorded group and its material.
func (c *Contacts) Group(name string) (*GroupRecord, *rendezvous.Material, error) {
	book, err := c.Book()
	if err != nil {
		return nil, nil, err
	}
	g, ok := book.Groups[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: group %s", ErrUnknownContact, name)
	}
	m, err := c.groupMaterial(g)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

func (c *Contacts) groupMaterial(g *GroupRecord) (*rendezvous.Material, error) {
	var seed idnike.SharedSeed
	if len(g.Seed) != len(seed) {
		return nil, fault.New(fault.LocalState, stateRole, "group "+g.Name, ErrContactMismatch)
	}
	copy(seed[:], g.Seed)
	m, err := c.resolver.ResolveGroup(seed, c.cred.ID(), idnike.Identity(g.Name))
	if err != nil {
		return nil, fault.New(fault.Crypto, "", "resolve group "+g.Name, err)
	}
	return m, nil
}
