// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/directory"
	"github.com/arke-messenger/arke/internal/cli"
)

func main() {
	cmd := cli.ServerCommand("arke-directory", config.RoleDirectory, "Arke user directory",
		`The user directory tracks registered identities, their session tokens and
the unread flag clients poll for new messages.`,
		directory.New)
	cli.ExecuteWithFang(cmd)
}
