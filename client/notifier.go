// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/retry"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/core/worker"
)

const (
	subscribeWait   = 25 * time.Second
	subscribeMaxGap = 30 * time.Second
)

// Event tells that a slot may hold something to read.  Unread events
// come from the directory flag and name no address.
type Event struct {
	Address common.Address
	Sender  string
	Unread  bool
}

// Notifier watches the store and the directory and reports activity on
// Events.  It never reads a slot itself.
type Notifier struct {
	worker.Worker

	log   *logging.Logger
	auth  *Authorities
	self  string
	token string

	addrs        func() []common.Address
	pollInterval time.Duration
	backoff      retry.Policy

	eventCh chan Event
}

// NewNotifier returns a Notifier for self.  addrs is consulted before
// every subscription so newly discovered contacts are picked up.
func NewNotifier(auth *Authorities, self, token string, addrs func() []common.Address, pollInterval time.Duration, log *logging.Logger) *Notifier {
	return &Notifier{
		log:          log,
		auth:         auth,
		self:         self,
		token:        token,
		addrs:        addrs,
		pollInterval: pollInterval,
		backoff:      auth.policy,
		eventCh:      make(chan Event),
	}
}

// Start starts the subscription and polling loops.
func (n *Notifier) Start() {
	n.Go(n.subscribeWorker)
	if n.token != "" && n.pollInterval > 0 {
		n.Go(n.pollWorker)
	}
}

// Events returns the activity channel.
func (n *Notifier) Events() <-chan Event {
	return n.eventCh
}

// ClearUnread lowers the local unread flag once the slots were read.
func (n *Notifier) ClearUnread(ctx context.Context) error {
	return n.auth.ClearUnread(ctx, n.self, n.token)
}

func (n *Notifier) emit(ev Event) bool {
	select {
	case n.eventCh <- ev:
		return true
	case <-n.HaltCh():
		return false
	}
}

func (n *Notifier) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-n.HaltCh():
		return false
	}
}

func (n *Notifier) subscribeWorker() {
	ctx, cancel := n.HaltContext(context.Background())
	defer cancel()

	failures := 0
	for {
		addrs := n.addrs()
		if len(addrs) == 0 {
			if !n.sleep(n.pollIntervalOr(time.Second)) {
				return
			}
			continue
		}
		req := &wire.StoreSubscribeRequest{Subscriber: n.self, WaitMillis: subscribeWait.Milliseconds()}
		for _, a := range addrs {
			req.Addresses = append(req.Addresses, a.Hex())
		}
		events, err := n.auth.StoreSubscribe(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d := retry.Delay(n.backoff.BaseDelay, subscribeMaxGap, n.backoff.Jitter, failures)
			failures++
			n.log.Warningf("Subscription failed, retrying in %v: %v", d, err)
			if !n.sleep(d) {
				return
			}
			continue
		}
		failures = 0
		for _, ev := range events {
			if !n.emit(Event{Address: common.HexToAddress(ev.Address), Sender: ev.Sender}) {
				return
			}
		}
		if len(events) > 0 {
			// Give the reader a chance to consume the slot before the next
			// subscription reports it again.
			if !n.sleep(n.pollIntervalOr(time.Second)) {
				return
			}
		}
	}
}

func (n *Notifier) pollWorker() {
	ctx, cancel := n.HaltContext(context.Background())
	defer cancel()

	for n.sleep(n.pollInterval) {
		unread, err := n.auth.Unread(ctx, n.self, n.token)
		switch {
		case err != nil && wire.IsCode(err, wire.CodeStaleSession):
			n.log.Warningf("Session was replaced, polling stops: %v", err)
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			n.log.Debugf("Unread poll failed: %v", err)
		case unread:
			if !n.emit(Event{Unread: true}) {
				return
			}
		}
	}
}

func (n *Notifier) pollIntervalOr(d time.Duration) time.Duration {
	if n.pollInterval > 0 && n.pollInterval < d {
		return n.pollInterval
	}
	return d
}
