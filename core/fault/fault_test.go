// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	require := require.New(t)

	base := errors.New("connection refused")
	err := New(Transport, "issuer 3", "blind partial extract", base)
	require.True(Retryable(err))
	require.ErrorIs(err, base)
	require.Equal("transport fault in blind partial extract (issuer 3): connection refused", err.Error())

	wrapped := fmt.Errorf("issuance: %w", err)
	require.Equal(Transport, KindOf(wrapped))

	// the innermost classification is kept
	again := New(Protocol, "client", "issuance", wrapped)
	require.Equal(Transport, KindOf(again))

	require.Nil(New(Crypto, "store", "verify", nil))
	require.False(Retryable(errors.New("plain")))
	require.True(Is(New(LocalState, "", "state write", base), LocalState))
	require.Equal("local state", LocalState.String())
}
