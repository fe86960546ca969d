// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	require := require.New(t)

	baseDelay := 100 * time.Millisecond
	maxDelay := 1 * time.Second

	t.Run("exponential growth", func(t *testing.T) {
		require.Equal(100*time.Millisecond, Delay(baseDelay, maxDelay, 0, 0))
		require.Equal(200*time.Millisecond, Delay(baseDelay, maxDelay, 0, 1))
		require.Equal(400*time.Millisecond, Delay(baseDelay, maxDelay, 0, 2))
		require.Equal(800*time.Millisecond, Delay(baseDelay, maxDelay, 0, 3))
	})

	t.Run("max delay cap", func(t *testing.T) {
		require.Equal(maxDelay, Delay(baseDelay, maxDelay, 0, 10))
	})

	t.Run("jitter range", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			d := Delay(baseDelay, maxDelay, 0.2, 0)
			require.GreaterOrEqual(d, 80*time.Millisecond)
			require.LessOrEqual(d, 120*time.Millisecond)
		}
	})
}

func TestIsTransientError(t *testing.T) {
	require := require.New(t)

	require.False(IsTransientError(nil))
	require.False(IsTransientError(errors.New("identity already registered")))
	require.False(IsTransientError(context.Canceled))
	require.True(IsTransientError(errors.New("dial tcp 127.0.0.1:1: connect: connection refused")))
	require.True(IsTransientError(&net.OpError{Op: "read", Err: errors.New("i/o timeout")}))
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoRetriesTransient(t *testing.T) {
	require := require.New(t)

	calls := 0
	err := Do(context.Background(), testPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(err)
	require.Equal(3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	require := require.New(t)

	permanent := errors.New("malformed share")
	calls := 0
	err := Do(context.Background(), testPolicy(), func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(err, permanent)
	require.Equal(1, calls)
}

func TestDoExhausts(t *testing.T) {
	require := require.New(t)

	calls := 0
	err := Do(context.Background(), testPolicy(), func(context.Context) error {
		calls++
		return errors.New("i/o timeout")
	})
	require.ErrorIs(err, ErrAttemptsExhausted)
	require.Equal(3, calls)
}

func TestDoHonoursContext(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour
	calls := 0
	err := Do(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection refused")
	})
	require.ErrorIs(err, context.Canceled)
	require.Equal(1, calls)
}
