// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package rendezvous

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/crypto/idnike"
)

type testCredentials struct {
	scheme idnike.Scheme
	keys   map[string]idnike.UserSecretKey
}

// issueAll runs the issuance protocol for every name against the first
// threshold+1 issuers.
func issueAll(t *testing.T, names ...string) *testCredentials {
	require := require.New(t)
	scheme := idnike.BLS12381()
	regSK, regPK, err := scheme.SetupRegistration(rand.Reader)
	require.NoError(err)
	pp, secrets, _, err := scheme.SimulateDKG(3, 10, rand.Reader)
	require.NoError(err)

	creds := &testCredentials{scheme: scheme, keys: make(map[string]idnike.UserSecretKey)}
	for _, name := range names {
		id := idnike.MustIdentity(name)
		att, err := scheme.Register(regSK, id, idnike.RegistrationDomain)
		require.NoError(err)
		bctx, req, err := scheme.Blind(regPK, id, idnike.RegistrationDomain, att, rand.Reader)
		require.NoError(err)
		var partials []*idnike.PartialKey
		for _, share := range secrets[:pp.Threshold+1] {
			bpk, err := scheme.BlindPartialExtract(share, regPK, req)
			require.NoError(err)
			p, err := scheme.Unblind(bctx, bpk)
			require.NoError(err)
			partials = append(partials, p)
		}
		bctx.Discard()
		sk, err := scheme.Combine(partials, pp.Threshold)
		require.NoError(err)
		creds.keys[name] = sk
	}
	return creds
}

func TestAddressEncoding(t *testing.T) {
	require := require.New(t)

	tag := []byte{1, 2, 3}
	want := crypto.Keccak256(
		[]byte{3, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3},
		[]byte{8, 0, 0, 0, 0, 0, 0, 0, 'c', 'o', 'n', 's', 't', 'a', 'n', 't'},
	)[:20]
	addr := Address(tag)
	require.Equal(want, addr.Bytes())
}

func TestBothSidesResolveSameAddress(t *testing.T) {
	require := require.New(t)
	names := []string{"alice0001", "bob00002", "carol003", "Zed"}
	creds := issueAll(t, names...)
	r := New()

	for i, a := range names {
		for _, b := range names[i+1:] {
			idA, idB := idnike.MustIdentity(a), idnike.MustIdentity(b)
			ma, err := r.Resolve(creds.keys[a], idA, idB)
			require.NoError(err)
			mb, err := r.Resolve(creds.keys[b], idB, idA)
			require.NoError(err)

			require.Equal(ma.Address, mb.Address)
			require.Equal(ma.SymmetricKey, mb.SymmetricKey)
			require.Equal(ma.LocationTag.Public(), mb.LocationTag.Public())
			require.Equal(ma.WriteTag.Public(), mb.ReadTag.Public())
			require.Equal(ma.ReadTag.Public(), mb.WriteTag.Public())

			lo := ma
			if idB.Less(idA) {
				lo = mb
			}
			require.Equal(lo.WriteTag.Public(), lo.LocationTag.Public())
		}
	}

	_, err := r.Resolve(creds.keys["alice0001"], idnike.MustIdentity("alice0001"), idnike.MustIdentity("alice0001"))
	require.ErrorIs(err, ErrSameIdentity)
}

func TestGroupMaterial(t *testing.T) {
	require := require.New(t)
	r := New()

	var seed idnike.SharedSeed
	_, err := rand.Reader.Read(seed[:])
	require.NoError(err)
	group := idnike.MustIdentity("friends")

	m1, err := r.ResolveGroup(seed, idnike.MustIdentity("alice0001"), group)
	require.NoError(err)
	m2, err := r.ResolveGroup(seed, idnike.MustIdentity("bob00002"), group)
	require.NoError(err)
	require.Equal(m1.Address, m2.Address)
	require.Equal(m1.WriteTag.Public(), m1.ReadTag.Public())
	require.Equal(m1.WriteTag.Public(), m2.ReadTag.Public())
	require.Equal(idnike.Identity("alice0001"), m1.Self)
}
