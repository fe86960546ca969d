// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package service implements the dead-drop store role.  Writes and
// deletes must carry a location proof for the tag the address was
// derived from; reads are open to anyone who knows the address.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/crypto/handshake"
	"github.com/arke-messenger/arke/crypto/replay"
	"github.com/arke-messenger/arke/internal/instrument"
	"github.com/arke-messenger/arke/rendezvous"
	"github.com/arke-messenger/arke/server"
	"github.com/arke-messenger/arke/store"
	"github.com/arke-messenger/arke/store/boltstore"
	"github.com/arke-messenger/arke/store/memstore"
)

// ErrAddressMismatch is returned when a proof's tag does not hash to the
// slot address.
var ErrAddressMismatch = errors.New("store: tag does not match address")

// Service is the dead-drop store handler.
type Service struct {
	log       *logging.Logger
	backend   store.Store
	handshake handshake.Scheme
	replay    *replay.Filter
	hub       *hub
	maxWait   time.Duration
}

// New is a server.NewHandlerFn for the store role.
func New(s *server.Server) (server.Handler, error) {
	cfg := s.Config().Store
	if s.Config().Debug.GenerateOnly {
		return nil, server.ErrGenerateOnly
	}
	var (
		backend store.Store
		err     error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		backend = memstore.New()
	default:
		if backend, err = boltstore.New(s.DataPath(cfg.DBFile)); err != nil {
			return nil, err
		}
	}
	svc, err := NewService(backend, cfg, s.LogBackend().GetLogger("store"))
	if err != nil {
		backend.Close()
		return nil, err
	}
	return svc, nil
}

// NewService returns a Service over backend.
func NewService(backend store.Store, cfg *config.Store, log *logging.Logger) (*Service, error) {
	f, err := replay.New(rand.Reader, cfg.ReplayCapacity, cfg.ReplayFalsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &Service{
		log:       log,
		backend:   backend,
		handshake: handshake.Edwards25519(),
		replay:    f,
		hub:       newHub(),
		maxWait:   time.Duration(cfg.MaxSubscribeWait) * time.Millisecond,
	}, nil
}

// Halt closes the backend.
func (s *Service) Halt() {
	s.backend.Close()
}

// Stats implements server.Statser.
func (s *Service) Stats() []string {
	entries, capacity, rotations := s.replay.Stats()
	return []string{
		fmt.Sprintf("slots %d", s.backend.Len()),
		fmt.Sprintf("subscriptions %d", s.hub.len()),
		fmt.Sprintf("replay_filter %d/%d rotations %d", entries, capacity, rotations),
	}
}

// verifyProof checks that tag hashes to addr, that proof shows knowledge
// of the tag's discrete log over nonce, and that nonce is fresh.
func (s *Service) verifyProof(addr common.Address, tag, nonce, proof []byte) error {
	if rendezvous.Address(tag) != addr {
		return wire.NewError(wire.CodeVerifyFailed, ErrAddressMismatch)
	}
	if err := s.handshake.VerifyWriteLocation(tag, nonce, proof); err != nil {
		return wire.NewError(wire.CodeVerifyFailed, err)
	}
	if err := s.replay.Check(nonce); err != nil {
		if errors.Is(err, replay.ErrReplayed) {
			instrument.NonceReplayed()
			return wire.NewError(wire.CodeReplayed, err)
		}
		return err
	}
	return nil
}

// OnRequest implements server.Handler.
func (s *Service) OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error) {
	switch q := req.(type) {
	case *wire.StoreWriteRequest:
		return s.onWrite(q)
	case *wire.StoreReadRequest:
		return s.onRead(q)
	case *wire.StoreDeleteRequest:
		return s.onDelete(q)
	case *wire.StoreSubscribeRequest:
		return s.onSubscribe(ctx, q)
	default:
		return nil, wire.Errorf(wire.CodeInvalidAction, "store: unsupported action %s", req.Action())
	}
}

func (s *Service) onWrite(q *wire.StoreWriteRequest) (wire.Response, error) {
	addr := common.HexToAddress(q.Address)
	if err := s.verifyProof(addr, q.Tag, q.Nonce, q.Proof); err != nil {
		return nil, err
	}
	overwrote, err := s.backend.Write(addr, &store.Message{
		IV:         q.IV,
		Ciphertext: q.Ciphertext,
		Sender:     q.Sender,
		WrittenAt:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	instrument.DeadDropOp("write")
	if overwrote {
		instrument.Overwrite()
		s.log.Noticef("Write to %v replaced an unread message.", addr.Hex())
	}
	for i := s.hub.wake(addr, q.Sender); i > 0; i-- {
		instrument.Wakeup()
	}
	return &wire.StoreWriteResponse{Status: wire.OK("written"), Overwrote: overwrote}, nil
}

func (s *Service) onRead(q *wire.StoreReadRequest) (wire.Response, error) {
	instrument.DeadDropOp("read")
	msg, err := s.backend.Read(common.HexToAddress(q.Address))
	switch {
	case errors.Is(err, store.ErrSlotEmpty):
		return &wire.StoreReadResponse{Status: wire.OK("slot is empty")}, nil
	case err != nil:
		return nil, err
	}
	return &wire.StoreReadResponse{
		Status:     wire.OK("read"),
		Found:      true,
		IV:         msg.IV,
		Ciphertext: msg.Ciphertext,
		Sender:     msg.Sender,
		WrittenAt:  msg.WrittenAt.Unix(),
	}, nil
}

func (s *Service) onDelete(q *wire.StoreDeleteRequest) (wire.Response, error) {
	addr := common.HexToAddress(q.Address)
	if err := s.verifyProof(addr, q.Tag, q.Nonce, q.Proof); err != nil {
		return nil, err
	}
	existed, err := s.backend.Delete(addr, q.Digest)
	switch {
	case errors.Is(err, store.ErrSlotChanged):
		s.log.Debugf("Delete of %v skipped, the slot was written again.", addr.Hex())
		return nil, wire.NewError(wire.CodeSlotChanged, err)
	case err != nil:
		return nil, err
	}
	instrument.DeadDropOp("delete")
	return &wire.StoreDeleteResponse{Status: wire.OK("deleted"), Existed: existed}, nil
}

// onSubscribe returns the watched slots already holding a message from
// someone other than the subscriber, or else waits for the first such
// write.
func (s *Service) onSubscribe(ctx context.Context, q *wire.StoreSubscribeRequest) (wire.Response, error) {
	instrument.DeadDropOp("subscribe")
	addrs := make([]common.Address, 0, len(q.Addresses))
	for _, a := range q.Addresses {
		addrs = append(addrs, common.HexToAddress(a))
	}

	// Register before looking at the slots so no write slips in between.
	w := s.hub.subscribe(q.Subscriber, addrs)
	defer s.hub.unsubscribe(w)

	var events []wire.StoreEvent
	for _, a := range addrs {
		msg, err := s.backend.Read(a)
		if err != nil {
			if errors.Is(err, store.ErrSlotEmpty) {
				continue
			}
			return nil, err
		}
		if msg.Sender != q.Subscriber {
			events = append(events, wire.StoreEvent{Address: a.Hex(), Sender: msg.Sender})
		}
	}
	if len(events) > 0 {
		return &wire.StoreSubscribeResponse{Status: wire.OK("pending"), Events: events}, nil
	}

	wait := time.Duration(q.WaitMillis) * time.Millisecond
	if wait > s.maxWait {
		wait = s.maxWait
	}
	if wait <= 0 {
		return &wire.StoreSubscribeResponse{Status: wire.OK("no events")}, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		events = append(events, ev)
	case <-timer.C:
		return &wire.StoreSubscribeResponse{Status: wire.OK("no events")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		select {
		case ev := <-w.ch:
			events = append(events, ev)
		default:
			return &wire.StoreSubscribeResponse{Status: wire.OK("woken"), Events: events}, nil
		}
	}
}
