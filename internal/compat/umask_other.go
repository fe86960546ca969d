// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !unix

package compat

// Umask is a no-op where the platform has no umask.
func Umask(int) int {
	return 0
}
