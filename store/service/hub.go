// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arke-messenger/arke/core/wire"
)

type waiter struct {
	subscriber string
	addrs      []common.Address
	ch         chan wire.StoreEvent
}

// hub wakes long polling subscribers when a slot they watch is written.
type hub struct {
	sync.Mutex

	waiters map[common.Address]map[*waiter]struct{}
	n       int
}

func newHub() *hub {
	return &hub{waiters: make(map[common.Address]map[*waiter]struct{})}
}

func (h *hub) subscribe(subscriber string, addrs []common.Address) *waiter {
	w := &waiter{
		subscriber: subscriber,
		addrs:      addrs,
		ch:         make(chan wire.StoreEvent, len(addrs)),
	}
	h.Lock()
	defer h.Unlock()
	for _, a := range addrs {
		m, ok := h.waiters[a]
		if !ok {
			m = make(map[*waiter]struct{})
			h.waiters[a] = m
		}
		m[w] = struct{}{}
	}
	h.n++
	return w
}

func (h *hub) unsubscribe(w *waiter) {
	h.Lock()
	defer h.Unlock()
	for _, a := range w.addrs {
		m := h.waiters[a]
		delete(m, w)
		if len(m) == 0 {
			delete(h.waiters, a)
		}
	}
	h.n--
}

// wake notifies the waiters on addr other than sender and returns how
// many were notified.
func (h *hub) wake(addr common.Address, sender string) int {
	h.Lock()
	defer h.Unlock()
	woken := 0
	ev := wire.StoreEvent{Address: addr.Hex(), Sender: sender}
	for w := range h.waiters[addr] {
		if w.subscriber == sender {
			continue
		}
		select {
		case w.ch <- ev:
			woken++
		default:
		}
	}
	return woken
}

func (h *hub) len() int {
	h.Lock()
	defer h.Unlock()
	return h.n
}
