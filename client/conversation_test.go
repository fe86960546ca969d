// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.Lock()
	defer b.Unlock()
	return b.buf.String()
}

func TestConversation(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	ctx := testContext(t)
	alice, bob := issuePair(t, c)

	in, inW := io.Pipe()
	out := new(syncBuffer)
	done := make(chan error, 1)
	go func() {
		done <- bob.Converse(ctx, "alice0001", in, out)
	}()

	_, err := alice.Send(ctx, "bob00002", []byte("hello"))
	require.NoError(err)
	require.Eventually(func() bool {
		return strings.Contains(out.String(), "alice0001: hello")
	}, 20*time.Second, 50*time.Millisecond)

	_, err = inW.Write([]byte("hi alice\n"))
	require.NoError(err)
	var msg *Message
	require.Eventually(func() bool {
		msg, err = alice.Receive(ctx, "bob00002")
		return err == nil || !errors.Is(err, ErrNoMessage)
	}, 20*time.Second, 50*time.Millisecond)
	require.NoError(err)
	require.Equal([]byte("hi alice"), msg.Text)

	_, err = inW.Write([]byte(QuitCommand + "\n"))
	require.NoError(err)
	select {
	case err = <-done:
		require.NoError(err)
	case <-time.After(20 * time.Second):
		t.Fatal("conversation did not stop on quit")
	}
}

func TestConversationCancel(t *testing.T) {
	require := require.New(t)
	c := startCluster(t, 4)
	_, bob := issuePair(t, c)

	in, _ := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bob.Converse(ctx, "alice0001", in, io.Discard)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(20 * time.Second):
		t.Fatal("conversation did not stop on cancel")
	}

	err := bob.Converse(context.Background(), "nobody01", in, io.Discard)
	require.ErrorIs(err, ErrUnknownContact)
}
