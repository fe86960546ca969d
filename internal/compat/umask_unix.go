// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build unix

// Package compat hides the platform differences of the arke binaries.
package compat

import "syscall"

// Umask sets the process umask.
func Umask(mask int) int {
	return syscall.Umask(mask)
}
