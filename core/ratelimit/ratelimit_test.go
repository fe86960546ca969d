// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBurst(t *testing.T) {
	require := require.New(t)

	l := New(1, 2, time.Minute)
	now := time.Now()
	require.True(l.Allow("10.0.0.1", now))
	require.True(l.Allow("10.0.0.1", now))
	require.False(l.Allow("10.0.0.1", now))

	// other peers have their own bucket
	require.True(l.Allow("10.0.0.2", now))

	// tokens refill
	require.True(l.Allow("10.0.0.1", now.Add(2*time.Second)))
}

func TestLimiterDisabled(t *testing.T) {
	require := require.New(t)

	l := New(0, 0, 0)
	require.Nil(l)
	for i := 0; i < 100; i++ {
		require.True(l.Allow("peer", time.Now()))
	}
	require.Zero(l.Len())
}

func TestLimiterEvictsIdle(t *testing.T) {
	require := require.New(t)

	l := New(100, 100, time.Second)
	start := time.Now()
	require.True(l.Allow("stale", start))
	later := start.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("peer-%d", i%4), later)
	}
	require.Equal(4, l.Len())
}
