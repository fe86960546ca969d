// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var w Worker
	var stopped atomic.Int32
	for i := 0; i < 3; i++ {
		w.Go(func() {
			<-w.HaltCh()
			stopped.Add(1)
		})
	}
	w.Halt()
	require.Equal(int32(3), stopped.Load())

	// second halt is harmless
	w.Halt()
}

func TestWorkerHaltContext(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var w Worker
	ctx, cancel := w.HaltContext(context.Background())
	defer cancel()

	go w.Halt()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		require.FailNow("context was not cancelled by Halt")
	}
}
