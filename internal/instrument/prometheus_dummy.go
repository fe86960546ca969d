// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build noprometheus

package instrument

import (
	"time"

	"gopkg.in/op/go-logging.v1"
)

// StartPrometheusListener does nothing
func StartPrometheusListener(address string, log *logging.Logger) {}

// Request does nothing
func Request(role, action, status string, elapsed time.Duration) {}

// RateLimited does nothing
func RateLimited(role string) {}

// Registration does nothing
func Registration() {}

// PartialKeyIssued does nothing
func PartialKeyIssued(issuer string) {}

// DeadDropOp does nothing
func DeadDropOp(op string) {}

// Overwrite does nothing
func Overwrite() {}

// NonceReplayed does nothing
func NonceReplayed() {}

// Wakeup does nothing
func Wakeup() {}
