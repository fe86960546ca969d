// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package client implements the Arke client: credential issuance against
// the authorities, contact discovery, and messaging over dead drops.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/core/log"
	"github.com/arke-messenger/arke/crypto/handshake"
	"github.com/arke-messenger/arke/crypto/idnike"
	"github.com/arke-messenger/arke/rendezvous"
)

const (
	credentialFile   = "credential.state"
	contactsFile     = "contacts.state"
	registrationFile = "registration.state"

	issueAttempts = 3
)

// Client is one local identity.
type Client struct {
	sync.Mutex

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	auth     *Authorities
	scheme   idnike.Scheme
	resolver *rendezvous.Resolver

	credWriter *StateWriter
	bookWriter *StateWriter
	regWriter  *StateWriter

	cred     *Credential
	contacts *Contacts
	dd       *DeadDrop
}

func initDataDir(d string) error {
	const dirMode = os.ModeDir | 0700
	fi, err := os.Lstat(d)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("client: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("client: failed to create DataDir: %v", err)
		}
		return nil
	}
	if !fi.IsDir() {
		return fmt.Errorf("client: DataDir '%v' is not a directory", d)
	}
	if fi.Mode() != dirMode {
		return fmt.Errorf("client: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
	}
	return nil
}

// New opens the client state in cfg.Client.DataDir, decrypting it with
// passphrase.
func New(cfg *config.Config, passphrase []byte) (*Client, error) {
	if cfg.Client == nil {
		return nil, errors.New("client: no Client configuration")
	}
	dataDir := cfg.Client.DataDir
	if err := initDataDir(dataDir); err != nil {
		return nil, err
	}

	p := cfg.Logging.File
	if !cfg.Logging.Disable && p != "" && !filepath.IsAbs(p) {
		p = filepath.Join(dataDir, p)
	}
	logBackend, err := log.New(p, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("client"),
		scheme:     idnike.BLS12381(),
		resolver: &rendezvous.Resolver{
			IDNIKE:    idnike.BLS12381(),
			Handshake: handshake.Edwards25519(),
			Domain:    []byte(cfg.Client.Domain),
		},
	}
	c.auth = NewAuthorities(cfg.Client, logBackend.GetLogger("authorities"))
	c.credWriter = NewStateWriter(logBackend.GetLogger("state"), filepath.Join(dataDir, credentialFile), passphrase)
	c.bookWriter = NewStateWriter(logBackend.GetLogger("state"), filepath.Join(dataDir, contactsFile), passphrase)
	c.regWriter = NewStateWriter(logBackend.GetLogger("state"), filepath.Join(dataDir, registrationFile), passphrase)

	b, err := c.credWriter.Load()
	if err != nil {
		c.Shutdown()
		return nil, err
	}
	if b != nil {
		cred := new(Credential)
		if err = cbor.Unmarshal(b, cred); err != nil {
			c.Shutdown()
			return nil, fault.New(fault.LocalState, stateRole, "decode credential", err)
		}
		c.setCredential(cred)
		c.log.Noticef("Loaded the credential of %v.", cred.Identity)
		if cred.SessionToken == "" {
			c.log.Warningf("%v is not listed in the directory yet, issue it again to finish.", cred.Identity)
		}
	}
	return c, nil
}

// Shutdown stops the state writers.
func (c *Client) Shutdown() {
	c.credWriter.Halt()
	c.bookWriter.Halt()
	c.regWriter.Halt()
}

// LogBackend returns the client's log backend.
func (c *Client) LogBackend() *log.Backend {
	return c.logBackend
}

// Authorities returns the RPC client.
func (c *Client) Authorities() *Authorities {
	return c.auth
}

func (c *Client) setCredential(cred *Credential) {
	c.Lock()
	defer c.Unlock()
	c.cred = cred
	c.contacts = NewContacts(c.auth, c.resolver, cred, c.bookWriter, c.logBackend.GetLogger("contacts"))
	c.dd = NewDeadDrop(c.auth, c.resolver.Handshake, rand.Reader, cred.Identity, c.logBackend.GetLogger("deaddrop"))
}

func (c *Client) ready() (*Credential, *Contacts, *DeadDrop, error) {
	c.Lock()
	defer c.Unlock()
	if c.cred == nil {
		return nil, nil, nil, ErrNoCredential
	}
	return c.cred, c.contacts, c.dd, nil
}

// Credential returns the current credential, or nil.
func (c *Client) Credential() *Credential {
	c.Lock()
	defer c.Unlock()
	return c.cred
}

// Contacts returns the contact book manager.
func (c *Client) Contacts() (*Contacts, error) {
	_, contacts, _, err := c.ready()
	return contacts, err
}

func (c *Client) saveCredential(cred *Credential) error {
	return c.credWriter.Update(func([]byte) ([]byte, error) {
		return cbor.Marshal(cred)
	})
}

// registration is an attestation kept between issuance attempts.
type registration struct {
	Identity    string             `cbor:"identity"`
	Domain      []byte             `cbor:"domain"`
	Attestation idnike.Attestation `cbor:"attestation"`
}

// loadRegistration returns the saved attestation of id for domain, or
// nil if there is none.
func (c *Client) loadRegistration(id string, domain []byte) (idnike.Attestation, error) {
	b, err := c.regWriter.Load()
	if err != nil || len(b) == 0 {
		return nil, err
	}
	reg := new(registration)
	if err = cbor.Unmarshal(b, reg); err != nil {
		return nil, fault.New(fault.LocalState, stateRole, "decode registration", err)
	}
	if reg.Identity != id || !bytes.Equal(reg.Domain, domain) {
		c.log.Warningf("Discarding the saved registration of %v.", reg.Identity)
		return nil, nil
	}
	return reg.Attestation, nil
}

func (c *Client) saveRegistration(reg *registration) error {
	return c.regWriter.Update(func([]byte) ([]byte, error) {
		return cbor.Marshal(reg)
	})
}

func (c *Client) clearRegistration() {
	if err := c.regWriter.Update(func([]byte) ([]byte, error) { return []byte{}, nil }); err != nil {
		c.log.Warningf("Failed to clear the saved registration: %v", err)
	}
}

// Issue runs the issuance protocol for id and persists the credential.
// The attestation is saved as soon as id is registered, so a failed
// attempt is resumed from it by the next call.  A credential that was
// persisted but never listed in the directory is listed.
func (c *Client) Issue(ctx context.Context, id string) (*Credential, error) {
	if held := c.Credential(); held != nil {
		if held.Identity != id || held.SessionToken != "" {
			return nil, fmt.Errorf("client: a credential for %v is already held", held.Identity)
		}
		return c.finishListing(ctx, held)
	}
	ident, err := idnike.NewIdentity(id)
	if err != nil {
		return nil, err
	}
	domain := []byte(c.cfg.Client.Domain)
	coord := NewCoordinator(c.auth, c.scheme, rand.Reader, c.logBackend.GetLogger("issuance"))

	att, err := c.loadRegistration(id, domain)
	if err != nil {
		return nil, err
	}
	if att == nil {
		if att, err = coord.Register(ctx, ident, domain); err != nil {
			return nil, err
		}
		if err = c.saveRegistration(&registration{Identity: id, Domain: domain, Attestation: att}); err != nil {
			return nil, err
		}
	} else {
		c.log.Noticef("Resuming the issuance of %v from its saved attestation.", id)
	}

	cred, err := coord.Resume(ctx, ident, att, issueAttempts, c.saveCredential)
	if err != nil {
		return nil, err
	}
	c.setCredential(cred)
	c.clearRegistration()
	c.log.Noticef("Issued the credential of %v.", cred.Identity)
	return cred, nil
}

// finishListing lists the identity of a persisted credential that has
// no session token yet.
func (c *Client) finishListing(ctx context.Context, held *Credential) (*Credential, error) {
	token, err := c.auth.List(ctx, held.Identity)
	if err != nil {
		return nil, err
	}
	cred := *held
	cred.SessionToken = token
	if err = c.saveCredential(&cred); err != nil {
		return nil, err
	}
	c.setCredential(&cred)
	c.clearRegistration()
	c.log.Noticef("Listed %v in the directory.", cred.Identity)
	return &cred, nil
}

// FetchDealtCredential obtains a credential for id from the dealer,
// dealt together with the one of peer.  It is a development shortcut
// around the blind issuance.
func (c *Client) FetchDealtCredential(ctx context.Context, id, peer string) (*Credential, error) {
	if c.Credential() != nil {
		return nil, fmt.Errorf("client: a credential for %v is already held", c.Credential().Identity)
	}
	ident, err := idnike.NewIdentity(id)
	if err != nil {
		return nil, err
	}
	keyID, err := c.auth.ComputeSKs(ctx, id, peer)
	if err != nil {
		return nil, err
	}
	sk, err := c.auth.RetrieveSK(ctx, keyID, id, peer)
	if err != nil {
		return nil, err
	}
	pp, err := c.auth.DealerParams(ctx)
	if err != nil {
		return nil, err
	}
	cred := &Credential{
		Identity:        id,
		Domain:          []byte(c.cfg.Client.Domain),
		Key:             sk,
		N:               pp.N,
		Threshold:       pp.Threshold,
		MasterPublicKey: pp.MasterPublicKey,
		IssuedAt:        time.Now(),
	}
	if err = c.scheme.VerifyUserSecretKey(cred.Params(), ident, cred.Domain, sk); err != nil {
		return nil, fault.New(fault.Crypto, config.RoleDealer, "verify credential", err)
	}
	if cred.SessionToken, err = c.auth.List(ctx, id); err != nil {
		return nil, err
	}
	if err = c.saveCredential(cred); err != nil {
		return nil, err
	}
	c.setCredential(cred)
	return cred, nil
}

// Discover adds peer to the contact book.
func (c *Client) Discover(ctx context.Context, peer string) (*ContactRecord, error) {
	_, contacts, _, err := c.ready()
	if err != nil {
		return nil, err
	}
	return contacts.Discover(ctx, peer)
}

// Remove deletes peer from the contact book.
func (c *Client) Remove(peer string) error {
	_, contacts, _, err := c.ready()
	if err != nil {
		return err
	}
	return contacts.Remove(peer)
}

// Send writes text to the slot shared with peer.  It reports whether an
// unread message was overwritten.
func (c *Client) Send(ctx context.Context, peer string, text []byte) (bool, error) {
	cred, contacts, dd, err := c.ready()
	if err != nil {
		return false, err
	}
	m, err := contacts.Material(peer)
	if err != nil {
		return false, err
	}
	b, err := textEnvelope(cred.Identity, text)
	if err != nil {
		return false, err
	}
	return dd.Send(ctx, m, b, peer)
}

// Receive takes the pending message from peer, if any.
func (c *Client) Receive(ctx context.Context, peer string) (*Message, error) {
	_, contacts, dd, err := c.ready()
	if err != nil {
		return nil, err
	}
	m, err := contacts.Material(peer)
	if err != nil {
		return nil, err
	}
	in, err := dd.Receive(ctx, m)
	if err != nil {
		return nil, err
	}
	return decodeMessage(in, "")
}

// Notifier returns an unstarted Notifier watching every contact and
// group slot.
func (c *Client) Notifier() (*Notifier, error) {
	cred, contacts, _, err := c.ready()
	if err != nil {
		return nil, err
	}
	addrs := func() []common.Address {
		book, err := contacts.Book()
		if err != nil {
			c.log.Warningf("Failed to load the contact book: %v", err)
			return nil
		}
		return book.Addresses()
	}
	poll := time.Duration(c.cfg.Client.PollInterval) * time.Millisecond
	return NewNotifier(c.auth, cred.Identity, cred.SessionToken, addrs, poll, c.logBackend.GetLogger("notifier")), nil
}

// Inbox reads every contact and group slot once and returns what was
// pending.  Slots that fail are reported in the joined error; the rest
// are still read.
func (c *Client) Inbox(ctx context.Context) ([]*Message, error) {
	cred, contacts, _, err := c.ready()
	if err != nil {
		return nil, err
	}
	book, err := contacts.Book()
	if err != nil {
		return nil, err
	}
	var (
		msgs []*Message
		errs []error
	)
	for _, peer := range book.Peers() {
		msg, err := c.Receive(ctx, peer)
		switch {
		case errors.Is(err, ErrNoMessage):
		case err != nil:
			errs = append(errs, err)
		default:
			msgs = append(msgs, msg)
		}
	}
	for name := range book.Groups {
		msg, err := c.ReceiveGroup(ctx, name)
		switch {
		case errors.Is(err, ErrNoMessage):
		case err != nil:
			errs = append(errs, err)
		default:
			msgs = append(msgs, msg)
		}
	}
	if len(errs) == 0 && cred.SessionToken != "" {
		if err := c.auth.ClearUnread(ctx, cred.Identity, cred.SessionToken); err != nil {
			c.log.Debugf("Failed to clear the unread flag: %v", err)
		}
	}
	return msgs, errors.Join(errs...)
}
