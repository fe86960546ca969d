// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/internal/cli"
	"github.com/arke-messenger/arke/registrar"
)

func main() {
	cmd := cli.ServerCommand("arke-registrar", config.RoleRegistrar, "Arke registration authority",
		`The registration authority attests that an identity is new.  A client
presents an identity, the registrar checks it with the user directory and
returns a signature over the identity and the registration domain.  The
key issuing authorities only extract keys for attested identities.`,
		registrar.New)
	cli.ExecuteWithFang(cmd)
}
