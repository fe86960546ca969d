// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/handshake"
	"github.com/arke-messenger/arke/crypto/idnike"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

// issuePair issues alice0001 and bob00002 and makes them contacts.
func issuePair(t *testing.T, c *cluster) (*Client, *Client) {
	require := require.New(t)
	ctx := testContext(t)

	alice, bob := c.newClient(t, "alice"), c.newClient(t, "bob")
	_, err := alice.Issue(ctx, "alice0001")
	require.NoError(err)
	_, err = bob.Issue(ctx, "bob00002")
	require.NoError(err)

	_, err = alice.Discover(ctx, "bob00002")
	require.NoError(err)
	_, err = bob.Discover(ctx, "alice0001")
	require.NoError(err)
	return alice, bob
}

func TestIssuanceWithFourOfTenIssuers(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	aliceContacts, err := alice.Contacts()
	require.NoError(err)
	bobContacts, err := bob.Contacts()
	require.NoError(err)
	am, err := aliceContacts.Material("bob00002")
	require.NoError(err)
	bm, err := bobContacts.Material("alice0001")
	require.NoError(err)
	require.Equal(am.Address, bm.Address)
	require.Equal(am.SymmetricKey, bm.SymmetricKey)

	overwrote, err := alice.Send(ctx, "bob00002", []byte("hello"))
	require.NoError(err)
	require.False(overwrote)

	// Alice's own write is not a message for her.
	_, err = alice.Receive(ctx, "bob00002")
	require.ErrorIs(err, ErrNoMessage)

	msg, err := bob.Receive(ctx, "alice0001")
	require.NoError(err)
	require.Equal("alice0001", msg.From)
	require.Equal([]byte("hello"), msg.Text)

	_, err = bob.Receive(ctx, "alice0001")
	require.ErrorIs(err, ErrNoMessage)
	resp, err := bob.Authorities().StoreRead(ctx, &wire.StoreReadRequest{Address: bm.Address.Hex(), Caller: "bob00002"})
	require.NoError(err)
	require.False(resp.Found)
}

func TestIssuanceBelowThresholdFails(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 2)
	ctx := testContext(t)

	alice := c.newClient(t, "alice")
	_, err := alice.Issue(ctx, "alice0001")
	require.Error(err)
	require.True(fault.Is(err, fault.Protocol), "%v", err)
	require.ErrorIs(err, ErrInsufficientShares)
	require.Nil(alice.Credential())

	_, err = os.Stat(filepath.Join(alice.cfg.Client.DataDir, credentialFile))
	require.True(os.IsNotExist(err))
}

func TestCoordinatorStates(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)

	cfg := c.clientConfig(t, "carol")
	auth := NewAuthorities(cfg.Client, testLog)
	coord := NewCoordinator(auth, idnike.BLS12381(), rand.Reader, testLog)
	var states []IssuanceState
	coord.OnTransition = func(s IssuanceState) { states = append(states, s) }

	var persisted []*Credential
	cred, err := coord.Run(ctx, idnike.MustIdentity("carol0003"), idnike.RegistrationDomain, 1, func(cr *Credential) error {
		persisted = append(persisted, cr)
		return nil
	})
	require.NoError(err)
	require.Equal([]IssuanceState{Registered, Blinded, PartialSharesPending, PartialSharesCollected, Combined, Persisted}, states)
	require.Equal(Persisted, coord.State())
	require.NotEmpty(cred.SessionToken)
	require.Len(persisted, 2)
	require.Equal(testN, cred.N)
	require.Equal(testThreshold, cred.Threshold)

	// The identity is now listed, so a second issuance stops at the
	// uniqueness check.
	_, err = coord.Register(ctx, idnike.MustIdentity("carol0003"), idnike.RegistrationDomain)
	require.ErrorIs(err, ErrIdentityTaken)
	require.True(fault.Is(err, fault.Protocol))
}

func TestLostUpdate(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	overwrote, err := alice.Send(ctx, "bob00002", []byte("first"))
	require.NoError(err)
	require.False(overwrote)
	overwrote, err = alice.Send(ctx, "bob00002", []byte("second"))
	require.NoError(err)
	require.True(overwrote)

	msg, err := bob.Receive(ctx, "alice0001")
	require.NoError(err)
	require.Equal([]byte("second"), msg.Text)
}

func TestDecryptFailureKeepsSlot(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	contacts, err := alice.Contacts()
	require.NoError(err)
	m, err := contacts.Material("bob00002")
	require.NoError(err)

	// A correctly proven write whose ciphertext is not under the pair key.
	hs := handshake.Edwards25519()
	key := make([]byte, handshake.KeySize)
	_, err = rand.Reader.Read(key)
	require.NoError(err)
	iv, ct, err := hs.EncryptMessage(key, m.WriteTag.Public(), []byte("garbage"), rand.Reader)
	require.NoError(err)
	nonce := make([]byte, handshake.NonceSize)
	_, err = rand.Reader.Read(nonce)
	require.NoError(err)
	proof, err := hs.ProveWriteLocation(m.LocationTag, nonce, rand.Reader)
	require.NoError(err)
	_, err = alice.Authorities().StoreWrite(ctx, &wire.StoreWriteRequest{
		Address:    m.Address.Hex(),
		Tag:        m.LocationTag.Public(),
		Nonce:      nonce,
		Proof:      proof,
		IV:         iv,
		Ciphertext: ct,
		Sender:     "alice0001",
	})
	require.NoError(err)

	_, err = bob.Receive(ctx, "alice0001")
	require.Error(err)
	require.True(fault.Is(err, fault.Crypto), "%v", err)

	resp, err := bob.Authorities().StoreRead(ctx, &wire.StoreReadRequest{Address: m.Address.Hex(), Caller: "bob00002"})
	require.NoError(err)
	require.True(resp.Found)
}

func TestGroup(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	g, err := alice.CreateGroup(ctx, "friends01", []string{"bob00002"})
	require.NoError(err)
	require.Equal([]string{"alice0001", "bob00002"}, g.Members)

	msg, err := bob.Receive(ctx, "alice0001")
	require.NoError(err)
	require.NotNil(msg.Invite)
	bg, err := bob.JoinGroup(msg.Invite)
	require.NoError(err)
	require.Equal(g.Address, bg.Address)

	_, err = alice.SendGroup(ctx, "friends01", []byte("hi all"))
	require.NoError(err)
	msg, err = bob.ReceiveGroup(ctx, "friends01")
	require.NoError(err)
	require.Equal("friends01", msg.Group)
	require.Equal("alice0001", msg.From)
	require.Equal([]byte("hi all"), msg.Text)

	_, err = alice.ReceiveGroup(ctx, "friends01")
	require.ErrorIs(err, ErrNoMessage)

	require.NoError(bob.Remove("alice0001"))
	_, err = bob.Receive(ctx, "alice0001")
	require.ErrorIs(err, ErrUnknownContact)
	require.ErrorIs(bob.Remove("alice0001"), ErrUnknownContact)
}

func TestInboxClearsUnread(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	_, err := alice.Send(ctx, "bob00002", []byte("ping"))
	require.NoError(err)

	cred := bob.Credential()
	unread, err := bob.Authorities().Unread(ctx, cred.Identity, cred.SessionToken)
	require.NoError(err)
	require.True(unread)

	msgs, err := bob.Inbox(ctx)
	require.NoError(err)
	require.Len(msgs, 1)
	assert.Equal(t, []byte("ping"), msgs[0].Text)

	unread, err = bob.Authorities().Unread(ctx, cred.Identity, cred.SessionToken)
	require.NoError(err)
	require.False(unread)
}

func TestFetchDealtCredential(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 0)
	ctx := testContext(t)

	carol, dave := c.newClient(t, "carol"), c.newClient(t, "dave")
	_, err := carol.FetchDealtCredential(ctx, "carol0003", "dave00004")
	require.NoError(err)
	_, err = dave.FetchDealtCredential(ctx, "dave00004", "carol0003")
	require.NoError(err)

	_, err = carol.FetchDealtCredential(ctx, "carol0003", "dave00004")
	require.Error(err)

	_, err = carol.Discover(ctx, "dave00004")
	require.NoError(err)
	_, err = dave.Discover(ctx, "carol0003")
	require.NoError(err)
	_, err = carol.Send(ctx, "dave00004", []byte("dealt"))
	require.NoError(err)
	msg, err := dave.Receive(ctx, "carol0003")
	require.NoError(err)
	require.Equal([]byte("dealt"), msg.Text)
}

func TestCredentialSurvivesRestart(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)

	cfg := c.clientConfig(t, "alice")
	alice, err := New(cfg, []byte("secret"))
	require.NoError(err)
	cred, err := alice.Issue(ctx, "alice0001")
	require.NoError(err)
	alice.Shutdown()

	_, err = New(cfg, []byte("wrong"))
	require.ErrorIs(err, ErrDecryptState)

	alice, err = New(cfg, []byte("secret"))
	require.NoError(err)
	defer alice.Shutdown()
	require.Equal(cred.Key, alice.Credential().Key)
	require.Equal(cred.SessionToken, alice.Credential().SessionToken)
}

func TestIssuanceResumesAfterFailure(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)

	cfg := c.clientConfig(t, "alice")
	live := cfg.Client.Issuers
	dead := make([]string, len(live))
	for i := range dead {
		dead[i] = deadAddress(t)
	}

	// Registration succeeds, then every issuer is unreachable.
	cfg.Client.Issuers = dead
	alice, err := New(cfg, []byte("secret"))
	require.NoError(err)
	_, err = alice.Issue(ctx, "alice0001")
	require.ErrorIs(err, ErrInsufficientShares)
	require.Nil(alice.Credential())
	alice.Shutdown()

	// The saved attestation lets the next attempt skip the registrar,
	// which would refuse to attest alice0001 again.
	cfg.Client.Issuers = live
	alice, err = New(cfg, []byte("secret"))
	require.NoError(err)
	defer alice.Shutdown()
	att, err := alice.loadRegistration("alice0001", []byte(cfg.Client.Domain))
	require.NoError(err)
	require.NotEmpty(att)

	cred, err := alice.Issue(ctx, "alice0001")
	require.NoError(err)
	require.NotEmpty(cred.SessionToken)
	_, err = alice.Authorities().FindUser(ctx, "alice0001")
	require.NoError(err)

	att, err = alice.loadRegistration("alice0001", []byte(cfg.Client.Domain))
	require.NoError(err)
	require.Nil(att)
}

func TestIssueListsUnlistedCredential(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)

	cfg := c.clientConfig(t, "alice")
	alice, err := New(cfg, []byte("secret"))
	require.NoError(err)
	ident := idnike.MustIdentity("alice0001")

	coord := NewCoordinator(alice.Authorities(), idnike.BLS12381(), rand.Reader, testLog)
	att, err := coord.Register(ctx, ident, []byte(cfg.Client.Domain))
	require.NoError(err)

	// The directory goes away after the credential is persisted.
	offline := *cfg.Client
	offline.Directory = deadAddress(t)
	coord = NewCoordinator(NewAuthorities(&offline, testLog), idnike.BLS12381(), rand.Reader, testLog)
	_, err = coord.Issue(ctx, ident, att, alice.saveCredential)
	require.True(fault.Is(err, fault.Transport), "%v", err)
	alice.Shutdown()

	alice, err = New(cfg, []byte("secret"))
	require.NoError(err)
	defer alice.Shutdown()
	require.NotNil(alice.Credential())
	require.Empty(alice.Credential().SessionToken)
	_, err = alice.Authorities().FindUser(ctx, "alice0001")
	require.Error(err)

	cred, err := alice.Issue(ctx, "alice0001")
	require.NoError(err)
	require.NotEmpty(cred.SessionToken)
	require.Equal(cred.SessionToken, alice.Credential().SessionToken)
	_, err = alice.Authorities().FindUser(ctx, "alice0001")
	require.NoError(err)

	_, err = alice.Issue(ctx, "alice0001")
	require.Error(err)
}

// interleavedScheme runs hook once inside DecryptMessage, after a slot
// was read and before it is deleted.
type interleavedScheme struct {
	handshake.Scheme
	hook func()
}

func (s *interleavedScheme) DecryptMessage(key []byte, tag handshake.Tag, iv, ciphertext []byte) ([]byte, error) {
	if s.hook != nil {
		s.hook()
		s.hook = nil
	}
	return s.Scheme.DecryptMessage(key, tag, iv, ciphertext)
}

func TestReceiveKeepsWriteAfterRead(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	_, err := alice.Send(ctx, "bob00002", []byte("first"))
	require.NoError(err)

	hs := &interleavedScheme{Scheme: handshake.Edwards25519()}
	hs.hook = func() {
		_, err := alice.Send(ctx, "bob00002", []byte("second"))
		require.NoError(err)
	}
	contacts, err := bob.Contacts()
	require.NoError(err)
	m, err := contacts.Material("alice0001")
	require.NoError(err)
	dd := NewDeadDrop(bob.Authorities(), hs, rand.Reader, "bob00002", testLog)

	in, err := dd.Receive(ctx, m)
	require.NoError(err)
	msg, err := decodeMessage(in, "")
	require.NoError(err)
	require.Equal([]byte("first"), msg.Text)

	msg, err = bob.Receive(ctx, "alice0001")
	require.NoError(err)
	require.Equal([]byte("second"), msg.Text)
	_, err = bob.Receive(ctx, "alice0001")
	require.ErrorIs(err, ErrNoMessage)
}

func TestGroupThreeMembers(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	carol := c.newClient(t, "carol")
	_, err := carol.Issue(ctx, "carol0003")
	require.NoError(err)
	_, err = alice.Discover(ctx, "carol0003")
	require.NoError(err)
	_, err = carol.Discover(ctx, "alice0001")
	require.NoError(err)

	_, err = alice.CreateGroup(ctx, "friends01", []string{"bob00002", "carol0003"})
	require.NoError(err)
	members := []*Client{bob, carol}
	for _, member := range members {
		msg, err := member.Receive(ctx, "alice0001")
		require.NoError(err)
		require.NotNil(msg.Invite)
		_, err = member.JoinGroup(msg.Invite)
		require.NoError(err)
	}

	_, err = alice.SendGroup(ctx, "friends01", []byte("hi all"))
	require.NoError(err)
	for _, member := range members {
		msg, err := member.ReceiveGroup(ctx, "friends01")
		require.NoError(err)
		require.Equal("alice0001", msg.From)
		require.Equal([]byte("hi all"), msg.Text)

		_, err = member.ReceiveGroup(ctx, "friends01")
		require.ErrorIs(err, ErrNoMessage)
	}

	_, err = bob.SendGroup(ctx, "friends01", []byte("hello back"))
	require.NoError(err)
	for _, member := range []*Client{alice, carol} {
		msg, err := member.ReceiveGroup(ctx, "friends01")
		require.NoError(err)
		require.Equal("bob00002", msg.From)
		require.Equal([]byte("hello back"), msg.Text)
	}
	_, err = bob.ReceiveGroup(ctx, "friends01")
	require.ErrorIs(err, ErrNoMessage)
}

func TestTextEnvelopeFits(t *testing.T) {
	sender := string(bytes.Repeat([]byte{'a'}, idnike.MaxIdentityLength))
	b, err := textEnvelope(sender, make([]byte, MaxTextSize))
	require.NoError(t, err)
	require.LessOrEqual(t, len(b), handshake.MaxMessageSize)

	_, err = textEnvelope(sender, make([]byte, MaxTextSize+1))
	require.ErrorIs(t, err, ErrTextTooLarge)
}

func TestSendLargestText(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	_, err := alice.Send(ctx, "bob00002", make([]byte, MaxTextSize+1))
	require.ErrorIs(err, ErrTextTooLarge)

	text := bytes.Repeat([]byte{0x5a}, MaxTextSize)
	_, err = alice.Send(ctx, "bob00002", text)
	require.NoError(err)
	msg, err := bob.Receive(ctx, "alice0001")
	require.NoError(err)
	require.Equal(text, msg.Text)
}
