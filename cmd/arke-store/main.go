// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/internal/cli"
	"github.com/arke-messenger/arke/store/service"
)

func main() {
	cmd := cli.ServerCommand("arke-store", config.RoleStore, "Arke dead-drop store",
		`The dead-drop store keeps one message slot per address.  Writes, reads and
deletes carry a location proof bound to the slot address and a single use
nonce.  Subscriptions long poll for writes to a set of addresses.`,
		service.New)
	cli.ExecuteWithFang(cmd)
}
