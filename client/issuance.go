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

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
)

// IssuanceState is a step of the issuance protocol.
type IssuanceState int

const (
	Unregistered IssuanceState = iota
	Registered
	Blinded
	PartialSharesPending
	PartialSharesCollected
	Combined
	Persisted
)

var issuanceStateNames = [...]string{
	"Unregistered",
	"Registered",
	"Blinded",
	"PartialSharesPending",
	"PartialSharesCollected",
	"Combined",
	"Persisted",
}

func (s IssuanceState) String() string {
	if int(s) < len(issuanceStateNames) {
		return issuanceStateNames[s]
	}
	return fmt.Sprintf("IssuanceState(%d)", int(s))
}

// Credential is the persisted result of issuance.
type Credential struct {
	Identity        string               `cbor:"identity"`
	Domain          []byte               `cbor:"domain"`
	Key             idnike.UserSecretKey `cbor:"key"`
	N               int                  `cbor:"n"`
	Threshold       int                  `cbor:"threshold"`
	MasterPublicKey []byte               `cbor:"master_public_key"`
	SessionToken    string               `cbor:"session_token"`
	IssuedAt        time.Time            `cbor:"issued_at"`
}

// ID returns the credential's identity.
func (c *Credential) ID() idnike.Identity {
	return idnike.Identity(c.Identity)
}

// Params returns the issuance parameters the credential verifies under.
func (c *Credential) Params() *idnike.IssuanceParameters {
	return &idnike.IssuanceParameters{N: c.N, Threshold: c.Threshold, MasterPublicKey: c.MasterPublicKey}
}

// issuerResult is what one issuer contributed to an attempt.
type issuerResult struct {
	i      int
	params *wire.IssuanceParamsResponse
	bpk    *idnike.BlindPartialKey
	err    error
}

// Coordinator drives the issuance protocol against the registrar and
// the issuer pool.
type Coordinator struct {
	log    *logging.Logger
	auth   *Authorities
	scheme idnike.Scheme
	rng    io.Reader

	// OnTransition, when set, is called on every state change.
	OnTransition func(IssuanceState)

	state IssuanceState
}

// NewCoordinator returns a Coordinator in the Unregistered state.
func NewCoordinator(auth *Authorities, scheme idnike.Scheme, rng io.Reader, log *logging.Logger) *Coordinator {
	return &Coordinator{log: log, auth: auth, scheme: scheme, rng: rng}
}

// State returns the current state.
func (c *Coordinator) State() IssuanceState {
	return c.state
}

func (c *Coordinator) enter(s IssuanceState) {
	c.log.Debugf("Issuance: %v -> %v", c.state, s)
	c.state = s
	if c.OnTransition != nil {
		c.OnTransition(s)
	}
}

// Register checks that id is free and obtains its attestation.
func (c *Coordinator) Register(ctx context.Context, id idnike.Identity, domain []byte) (idnike.Attestation, error) {
	unique, err := c.auth.CheckUniqueness(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if !unique {
		return nil, fault.New(fault.Protocol, config.RoleDirectory, string(wire.ActionCheckUniqueness), ErrIdentityTaken)
	}
	// Another client may register id between the check and here; the
	// registrar refuses the loser.
	att, err := c.auth.Register(ctx, id, domain)
	if err != nil {
		return nil, err
	}
	c.enter(Registered)
	return att, nil
}

// Issue turns an attestation into a verified credential.  Every call
// blinds afresh, so it may be repeated after a failure with the same
// attestation.  persist is called with the combined credential before
// the identity is listed in the directory.
func (c *Coordinator) Issue(ctx context.Context, id idnike.Identity, att idnike.Attestation, persist func(*Credential) error) (*Credential, error) {
	c.state = Registered

	regPK, domain, err := c.auth.RegistrarPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	bctx, req, err := c.scheme.Blind(regPK, id, domain, att, c.rng)
	if err != nil {
		return nil, fault.New(fault.Crypto, config.RoleRegistrar, "blind", err)
	}
	defer bctx.Discard()
	c.enter(Blinded)

	c.enter(PartialSharesPending)
	params, valid, err := c.collect(ctx, req)
	if err != nil {
		return nil, err
	}
	c.enter(PartialSharesCollected)

	partials := make([]*idnike.PartialKey, 0, len(valid))
	for _, r := range valid {
		pk, err := c.scheme.Unblind(bctx, r.bpk)
		if err != nil {
			return nil, fault.New(fault.Crypto, issuerRole(r.i), "unblind", err)
		}
		partials = append(partials, pk)
	}
	sk, err := c.scheme.Combine(partials, params.Threshold)
	if err != nil {
		return nil, fault.New(fault.Crypto, "", "combine", err)
	}
	if err = c.scheme.VerifyUserSecretKey(params, id, domain, sk); err != nil {
		return nil, fault.New(fault.Crypto, "", "verify credential", err)
	}
	c.enter(Combined)

	cred := &Credential{
		Identity:        id.String(),
		Domain:          domain,
		Key:             sk,
		N:               params.N,
		Threshold:       params.Threshold,
		MasterPublicKey: params.MasterPublicKey,
		IssuedAt:        time.Now(),
	}
	if err = persist(cred); err != nil {
		return nil, fault.New(fault.LocalState, stateRole, "persist credential", err)
	}
	c.enter(Persisted)

	if cred.SessionToken, err = c.auth.List(ctx, cred.Identity); err != nil {
		return nil, err
	}
	if err = persist(cred); err != nil {
		return nil, fault.New(fault.LocalState, stateRole, "persist session", err)
	}
	return cred, nil
}

// Run registers id and issues its credential, repeating Issue with fresh
// blinding while it fails with a transport fault.
func (c *Coordinator) Run(ctx context.Context, id idnike.Identity, domain []byte, attempts int, persist func(*Credential) error) (*Credential, error) {
	att, err := c.Register(ctx, id, domain)
	if err != nil {
		return nil, err
	}
	return c.Resume(ctx, id, att, attempts, persist)
}

// Resume issues the credential of an already registered id from its
// attestation, repeating Issue with fresh blinding while it fails with a
// transport fault.
func (c *Coordinator) Resume(ctx context.Context, id idnike.Identity, att idnike.Attestation, attempts int, persist func(*Credential) error) (*Credential, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; ; i++ {
		cred, err := c.Issue(ctx, id, att, persist)
		if err == nil || !fault.Retryable(err) || i == attempts-1 {
			return cred, err
		}
		c.log.Warningf("Issuance attempt %d failed, retrying: %v", i+1, err)
	}
}

// collect fans the blinded request out to every issuer and returns the
// pool parameters and the verified answers.  Each issuer is blamed
// separately; the attempt fails unless at least threshold+1 answers
// verify.
func (c *Coordinator) collect(ctx context.Context, req *idnike.BlindRequest) (*idnike.IssuanceParameters, []*issuerResult, error) {
	n := c.auth.N()
	results := make([]*issuerResult, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			r := &issuerResult{i: i}
			results[i] = r
			if r.params, r.err = c.auth.IssuanceParams(ctx, i); r.err != nil {
				return nil
			}
			if r.bpk, r.err = c.auth.BlindPartialExtract(ctx, i, req); r.err != nil {
				return nil
			}
			if r.bpk.Index != r.params.Index {
				r.err = fault.New(fault.Protocol, issuerRole(i), "extract", fmt.Errorf("answered for index %d, advertised %d", r.bpk.Index, r.params.Index))
				return nil
			}
			pk := &idnike.IssuerPublicKey{Index: r.params.Index, Key: r.params.IssuerPublicKey}
			if err := c.scheme.VerifyBlindPartialKey(pk, req, r.bpk); err != nil {
				r.err = fault.New(fault.Crypto, issuerRole(i), "verify blind partial key", err)
			}
			return nil
		})
	}
	// Failures are kept per issuer in results; no goroutine returns one.
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, fault.New(fault.Transport, config.RoleIssuer, "collect", err)
	}

	params := poolParams(results)
	var (
		valid []*issuerResult
		blame []error
		seen  = make(map[uint32]bool)
	)
	for _, r := range results {
		switch {
		case r.err != nil:
		case params == nil || !sameParams(params, r.params):
			r.err = fault.New(fault.Protocol, issuerRole(r.i), "get_pp_issuance", ErrInconsistentParameters)
		case seen[r.bpk.Index]:
			r.err = fault.New(fault.Protocol, issuerRole(r.i), "extract", fmt.Errorf("duplicate share index %d", r.bpk.Index))
		}
		if r.err != nil {
			c.log.Warningf("Issuer %d: %v", r.i+1, r.err)
			blame = append(blame, r.err)
			continue
		}
		seen[r.bpk.Index] = true
		valid = append(valid, r)
	}

	if params == nil || len(valid) < params.Threshold+1 {
		need := "threshold+1"
		if params != nil {
			need = fmt.Sprintf("%d", params.Threshold+1)
		}
		err := fmt.Errorf("%w: %d of %d verified, need %s", ErrInsufficientShares, len(valid), n, need)
		// Built directly so the per issuer faults inside do not mask
		// the protocol fault.
		return nil, nil, &fault.Error{Kind: fault.Protocol, Role: config.RoleIssuer, Step: "collect", Err: errors.Join(append([]error{err}, blame...)...)}
	}
	return params, valid, nil
}

// poolParams returns the parameters advertised by the most issuers.
func poolParams(results []*issuerResult) *idnike.IssuanceParameters {
	var (
		best  *idnike.IssuanceParameters
		votes int
	)
	for _, r := range results {
		if r.err != nil {
			continue
		}
		n := 0
		for _, o := range results {
			if o.err == nil && sameParams(paramsOf(r.params), o.params) {
				n++
			}
		}
		if n > votes {
			best, votes = paramsOf(r.params), n
		}
	}
	if best != nil && best.Validate() != nil {
		return nil
	}
	return best
}

func paramsOf(r *wire.IssuanceParamsResponse) *idnike.IssuanceParameters {
	return &idnike.IssuanceParameters{N: r.N, Threshold: r.Threshold, MasterPublicKey: r.MasterPublicKey}
}

func sameParams(p *idnike.IssuanceParameters, r *wire.IssuanceParamsResponse) bool {
	return p.N == r.N && p.Threshold == r.Threshold && bytes.Equal(p.MasterPublicKey, r.MasterPublicKey)
}
