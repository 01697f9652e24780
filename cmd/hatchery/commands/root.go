// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/version"
)

// Root returns the hatchery command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "hatchery",
		Description: `Hatchery: provisioning control plane for hosted agents.

Register credentials, create agents with a hatching manifest, hand
workers an encrypted startup bundle, and pair messaging channels.

Every command reads its configuration from --config or
$HATCHERY_CONFIG. Run 'hatchery init' once before anything else.`,
		Subcommands: []*cli.Command{
			initCommand(),
			serveCommand(),
			secretCommand(),
			credentialCommand(),
			agentCommand(),
			stepCommand(),
			bundleCommand(),
			pairCommand(),
			channelCommand(),
			templateCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string) error {
					fmt.Printf("hatchery %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Generate keys and data directories",
				Command:     "hatchery init --config hatchery.yaml",
			},
			{
				Description: "Serve bundle downloads to workers",
				Command:     "hatchery serve",
			},
			{
				Description: "Create an agent with WhatsApp enabled",
				Command:     "hatchery agent create --owner user-1 --credential <id> --channel whatsapp scout",
			},
			{
				Description: "Print the boot script for the agent's worker",
				Command:     "hatchery bundle issue <agent-id>",
			},
			{
				Description: "Pair WhatsApp once the worker is running",
				Command:     "hatchery pair watch <agent-id> whatsapp",
			},
		},
	}
}
