// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/fault"
	"github.com/arke-messenger/arke/core/retry"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/idnike"
)

// Authorities is the RPC client for the authorities and the store.
// Every attempt is bounded by the request timeout and only transport
// failures are retried.
type Authorities struct {
	log     *logging.Logger
	cfg     *config.Client
	policy  retry.Policy
	timeout time.Duration
}

// NewAuthorities returns the RPC client for cfg.
func NewAuthorities(cfg *config.Client, log *logging.Logger) *Authorities {
	p := retry.DefaultPolicy()
	if r := cfg.Retry; r != nil {
		p.MaxAttempts = r.MaxAttempts
		p.BaseDelay = time.Duration(r.BaseDelay) * time.Millisecond
		p.MaxDelay = time.Duration(r.MaxDelay) * time.Millisecond
	}
	p.Retryable = wire.IsTransient
	return &Authorities{
		log:     log,
		cfg:     cfg,
		policy:  p,
		timeout: time.Duration(cfg.RequestTimeout) * time.Millisecond,
	}
}

// N returns the number of configured issuers.
func (a *Authorities) N() int {
	return len(a.cfg.Issuers)
}

// classify turns a call failure into a fault naming role and step.
func classify(role, step string, err error) error {
	if err == nil {
		return nil
	}
	var re *wire.RemoteError
	switch {
	case errors.As(err, &re):
		return fault.New(fault.Protocol, role, step, err)
	case errors.Is(err, retry.ErrAttemptsExhausted), wire.IsTransient(err),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fault.New(fault.Transport, role, step, err)
	default:
		return fault.New(fault.Protocol, role, step, err)
	}
}

func (a *Authorities) attempt(ctx context.Context, addr string, req wire.Request, resp wire.Response) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return wire.Call(ctx, addr, req, resp)
}

func (a *Authorities) call(ctx context.Context, role, addr string, req wire.Request, resp wire.Response) error {
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		return a.attempt(ctx, addr, req, resp)
	})
	if err != nil {
		a.log.Debugf("%s %s failed: %v", role, req.Action(), err)
	}
	return classify(role, string(req.Action()), err)
}

// callOnce makes exactly one attempt.  It is used where repeating a
// request could apply it twice.
func (a *Authorities) callOnce(ctx context.Context, role, addr string, req wire.Request, resp wire.Response) error {
	return classify(role, string(req.Action()), a.attempt(ctx, addr, req, resp))
}

func issuerRole(i int) string {
	return fmt.Sprintf("%s %d", config.RoleIssuer, i+1)
}

// CheckUniqueness asks the directory whether id is free.
func (a *Authorities) CheckUniqueness(ctx context.Context, id string) (bool, error) {
	var resp wire.CheckUniquenessResponse
	if err := a.call(ctx, config.RoleDirectory, a.cfg.Directory, &wire.CheckUniquenessRequest{IDString: id}, &resp); err != nil {
		return false, err
	}
	return resp.Unique, nil
}

// Register obtains the registration attestation of id.  The registrar
// attests an identity only once, so the request is never repeated.
func (a *Authorities) Register(ctx context.Context, id idnike.Identity, domain []byte) (idnike.Attestation, error) {
	var resp wire.RegisterResponse
	if err := a.callOnce(ctx, config.RoleRegistrar, a.cfg.Registrar, &wire.RegisterRequest{IDString: id.String(), Domain: domain}, &resp); err != nil {
		return nil, err
	}
	return resp.Attestation, nil
}

// RegistrarPublicKey fetches the registrar key and its domain.
func (a *Authorities) RegistrarPublicKey(ctx context.Context) (idnike.RegistrarPublicKey, []byte, error) {
	var resp wire.RegistrarPublicKeyResponse
	if err := a.call(ctx, config.RoleRegistrar, a.cfg.Registrar, &wire.GetRegistrarPublicKeyRequest{}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.RegistrarPublicKey, resp.Domain, nil
}

// IssuanceParams fetches the public parameters held by issuer i.
func (a *Authorities) IssuanceParams(ctx context.Context, i int) (*wire.IssuanceParamsResponse, error) {
	resp := new(wire.IssuanceParamsResponse)
	if err := a.call(ctx, issuerRole(i), a.cfg.Issuers[i], &wire.GetIssuanceParamsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// BlindPartialExtract asks issuer i for its blind partial key.
func (a *Authorities) BlindPartialExtract(ctx context.Context, i int, req *idnike.BlindRequest) (*idnike.BlindPartialKey, error) {
	var resp wire.BlindPartialExtractResponse
	q := &wire.BlindPartialExtractRequest{BlindID: req.BlindID, BlindAttestation: req.BlindAttestation}
	if err := a.call(ctx, issuerRole(i), a.cfg.Issuers[i], q, &resp); err != nil {
		return nil, err
	}
	return &idnike.BlindPartialKey{Index: resp.Index, Key: resp.BlindPartialKey}, nil
}

// AddUser lists id in the directory and returns its session token.
func (a *Authorities) AddUser(ctx context.Context, id string) (string, error) {
	var resp wire.AddUserResponse
	if err := a.call(ctx, config.RoleDirectory, a.cfg.Directory, &wire.AddUserRequest{IDString: id}, &resp); err != nil {
		return "", err
	}
	return resp.SessionToken, nil
}

// FindUser looks id up in the directory.
func (a *Authorities) FindUser(ctx context.Context, id string) (*wire.FindUserResponse, error) {
	resp := new(wire.FindUserResponse)
	if err := a.call(ctx, config.RoleDirectory, a.cfg.Directory, &wire.FindUserRequest{IDString: id}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateSession rotates the session token of id.
func (a *Authorities) UpdateSession(ctx context.Context, id string) (string, error) {
	var resp wire.UpdateSessionResponse
	if err := a.call(ctx, config.RoleDirectory, a.cfg.Directory, &wire.UpdateSessionRequest{IDString: id}, &resp); err != nil {
		return "", err
	}
	return resp.SessionToken, nil
}

// List adds id to the directory, if it is not listed yet, and returns a
// fresh session token.
func (a *Authorities) List(ctx context.Context, id string) (string, error) {
	if _, err := a.AddUser(ctx, id); err != nil && !wire.IsCode(err, wire.CodeAlreadyRegistered) {
		return "", err
	}
	return a.UpdateSession(ctx, id)
}

func (a *Authorities) unreadFlag(ctx context.Context, id, rw, token string) (bool, error) {
	var resp wire.UnreadFlagResponse
	q := &wire.UnreadFlagRequest{IDString: id, RW: rw, SessionToken: token}
	if err := a.call(ctx, config.RoleDirectory, a.cfg.Directory, q, &resp); err != nil {
		return false, err
	}
	return resp.Flag, nil
}

// Unread reads the unread flag of id.
func (a *Authorities) Unread(ctx context.Context, id, token string) (bool, error) {
	return a.unreadFlag(ctx, id, wire.UnreadRead, token)
}

// MarkUnread sets the unread flag of peer.
func (a *Authorities) MarkUnread(ctx context.Context, peer string) error {
	_, err := a.unreadFlag(ctx, peer, wire.UnreadSetTrue, "")
	return err
}

// ClearUnread clears the unread flag of id.
func (a *Authorities) ClearUnread(ctx context.Context, id, token string) error {
	_, err := a.unreadFlag(ctx, id, wire.UnreadSetFalse, token)
	return err
}

// StoreWrite submits one write.  It is never repeated.
func (a *Authorities) StoreWrite(ctx context.Context, req *wire.StoreWriteRequest) (bool, error) {
	var resp wire.StoreWriteResponse
	if err := a.callOnce(ctx, config.RoleStore, a.cfg.Store, req, &resp); err != nil {
		return false, err
	}
	return resp.Overwrote, nil
}

// StoreRead reads a slot.
func (a *Authorities) StoreRead(ctx context.Context, req *wire.StoreReadRequest) (*wire.StoreReadResponse, error) {
	resp := new(wire.StoreReadResponse)
	if err := a.call(ctx, config.RoleStore, a.cfg.Store, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// StoreDelete empties a slot.  The proof nonce is single use, so it is
// never repeated either.
func (a *Authorities) StoreDelete(ctx context.Context, req *wire.StoreDeleteRequest) (bool, error) {
	var resp wire.StoreDeleteResponse
	if err := a.callOnce(ctx, config.RoleStore, a.cfg.Store, req, &resp); err != nil {
		return false, err
	}
	return resp.Existed, nil
}

// StoreSubscribe long polls for writes.  The attempt timeout is
// extended by the requested wait.
func (a *Authorities) StoreSubscribe(ctx context.Context, req *wire.StoreSubscribeRequest) ([]wire.StoreEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout+time.Duration(req.WaitMillis)*time.Millisecond)
	defer cancel()
	var resp wire.StoreSubscribeResponse
	if err := wire.Call(ctx, a.cfg.Store, req, &resp); err != nil {
		return nil, classify(config.RoleStore, string(req.Action()), err)
	}
	return resp.Events, nil
}

// ComputeSKs asks the dealer to deal credentials to a pair.
func (a *Authorities) ComputeSKs(ctx context.Context, alice, bob string) (string, error) {
	var resp wire.ComputeSKsResponse
	if err := a.call(ctx, config.RoleDealer, a.cfg.Dealer, &wire.ComputeSKsRequest{AliceIDString: alice, BobIDString: bob}, &resp); err != nil {
		return "", err
	}
	return resp.KeyID, nil
}

// RetrieveSK fetches id's half of a dealt pair.
func (a *Authorities) RetrieveSK(ctx context.Context, keyID, id, want string) (idnike.UserSecretKey, error) {
	var resp wire.RetrieveSKsResponse
	q := &wire.RetrieveSKsRequest{KeyID: keyID, IDString: id, WantIDString: want}
	if err := a.call(ctx, config.RoleDealer, a.cfg.Dealer, q, &resp); err != nil {
		return nil, err
	}
	return resp.SK, nil
}

// DealerParams fetches the dealer's view of the issuance parameters.
func (a *Authorities) DealerParams(ctx context.Context) (*wire.IssuanceParamsResponse, error) {
	resp := new(wire.IssuanceParamsResponse)
	if err := a.call(ctx, config.RoleDealer, a.cfg.Dealer, &wire.GetIssuanceParamsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
