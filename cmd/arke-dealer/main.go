// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/dealer"
	"github.com/arke-messenger/arke/internal/cli"
)

func main() {
	cmd := cli.ServerCommand("arke-dealer", config.RoleDealer, "Arke trusted setup dealer",
		`The dealer runs the trusted setup of an Arke deployment.  On first start it
generates the registrar key pair, the master secret and the Shamir shares
of the key issuing authorities, and persists them under DataDir.  The
registrar and every issuer fetch their key material from it once.

With ExposeSecrets set the dealer also hands out user secret keys and the
master parameters.  That mode exists for development deployments only.`,
		dealer.New)
	cli.ExecuteWithFang(cmd)
}
