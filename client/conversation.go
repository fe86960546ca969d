// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/worker"
)

// QuitCommand ends a conversation when entered on a line of its own.
const QuitCommand = "q"

// Conversation is an interactive exchange with one contact or group.
// It runs an input producer, a writer and a notification consumer; on
// quit the writer and the consumer are signalled and allowed to finish
// their current step.
type Conversation struct {
	worker.Worker

	log      *logging.Logger
	c        *Client
	name     string
	group    bool
	addr     common.Address
	notifier *Notifier

	out   io.Writer
	outMu sync.Mutex

	lineCh chan string
}

// Converse runs a conversation with the contact or group name, reading
// lines from in and printing received messages to out, until the quit
// command, the end of in, or ctx is done.
func (c *Client) Converse(ctx context.Context, name string, in io.Reader, out io.Writer) error {
	_, contacts, _, err := c.ready()
	if err != nil {
		return err
	}
	book, err := contacts.Book()
	if err != nil {
		return err
	}
	conv := &Conversation{
		log:    c.logBackend.GetLogger("conversation:" + name),
		c:      c,
		name:   name,
		out:    out,
		lineCh: make(chan string),
	}
	switch {
	case book.Contacts[name] != nil:
		conv.addr = book.Contacts[name].Address
	case book.Groups[name] != nil:
		conv.addr = book.Groups[name].Address
		conv.group = true
	default:
		return fmt.Errorf("%w: %s", ErrUnknownContact, name)
	}

	notifier, err := c.Notifier()
	if err != nil {
		return err
	}
	notifier.Start()
	defer notifier.Halt()
	conv.notifier = notifier

	quitCh := make(chan struct{})
	go conv.produce(in, quitCh)
	conv.Go(conv.writer)
	conv.Go(conv.consumer)

	// Pick up whatever arrived while we were away.
	conv.receive(ctx)

	select {
	case <-quitCh:
		err = nil
	case <-ctx.Done():
		err = ctx.Err()
	}
	conv.Halt()
	return err
}

// produce forwards input lines to the writer.  It is not tracked by the
// worker since it may be blocked in a read that cannot be interrupted.
func (conv *Conversation) produce(in io.Reader, quitCh chan struct{}) {
	defer close(quitCh)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == QuitCommand {
			return
		}
		if line == "" {
			continue
		}
		select {
		case conv.lineCh <- line:
		case <-conv.HaltCh():
			return
		}
	}
}

func (conv *Conversation) printf(format string, args ...interface{}) {
	conv.outMu.Lock()
	defer conv.outMu.Unlock()
	fmt.Fprintf(conv.out, format, args...)
}

func (conv *Conversation) writer() {
	ctx, cancel := conv.HaltContext(context.Background())
	defer cancel()
	for {
		select {
		case <-conv.HaltCh():
			return
		case line := <-conv.lineCh:
			var (
				overwrote bool
				err       error
			)
			if conv.group {
				overwrote, err = conv.c.SendGroup(ctx, conv.name, []byte(line))
			} else {
				overwrote, err = conv.c.Send(ctx, conv.name, []byte(line))
			}
			switch {
			case err != nil:
				conv.printf("! send failed: %v\n", err)
			case overwrote:
				conv.printf("! an unread message was replaced\n")
			}
		}
	}
}

func (conv *Conversation) consumer() {
	ctx, cancel := conv.HaltContext(context.Background())
	defer cancel()
	for {
		select {
		case <-conv.HaltCh():
			return
		case ev := <-conv.notifier.Events():
			switch {
			case ev.Unread:
				if conv.receive(ctx) {
					if err := conv.notifier.ClearUnread(ctx); err != nil {
						conv.log.Debugf("Failed to clear the unread flag: %v", err)
					}
				}
			case ev.Address == conv.addr:
				conv.receive(ctx)
			}
		}
	}
}

// receive reads the slot once and reports whether it was consumed.
func (conv *Conversation) receive(ctx context.Context) bool {
	var (
		msg *Message
		err error
	)
	if conv.group {
		msg, err = conv.c.ReceiveGroup(ctx, conv.name)
	} else {
		msg, err = conv.c.Receive(ctx, conv.name)
	}
	switch {
	case errors.Is(err, ErrNoMessage):
		return true
	case err != nil:
		conv.log.Errorf("Receive failed: %v", err)
		conv.printf("! receive failed: %v\n", err)
		return false
	}
	if msg.Invite != nil {
		conv.printf("%s invited you to %s\n", msg.From, msg.Invite.Name)
		if _, err = conv.c.JoinGroup(msg.Invite); err != nil {
			conv.printf("! join failed: %v\n", err)
		}
		return true
	}
	conv.printf("%s: %s\n", msg.From, msg.Text)
	return true
}
