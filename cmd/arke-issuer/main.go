// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/internal/cli"
	"github.com/arke-messenger/arke/issuer"
)

func main() {
	cmd := cli.ServerCommand("arke-issuer", config.RoleIssuer, "Arke key issuing authority",
		`A key issuing authority holds one Shamir share of the master secret.  It
verifies the registrar attestation on a blinded identity and returns a
blind partial key.  A client combining Threshold+1 partial keys obtains
its identity based secret key without any issuer learning the identity.`,
		issuer.New)
	cli.ExecuteWithFang(cmd)
}
