// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/bundle"
)

func bundleCommand() *cli.Command {
	return &cli.Command{
		Name:    "bundle",
		Summary: "Issue and remove startup bundles",
		Description: fmt.Sprintf(`A startup bundle carries an agent's resolved configuration,
credential environment and paired channel credentials to its worker.
It is encrypted with a fresh AES-256-GCM key and uploaded to the
object store; the worker gets a signed download URL valid for %s and
the key, and nothing else.`, bundle.URLLifetime),
		Subcommands: []*cli.Command{
			bundleIssueCommand(),
			bundleCleanupCommand(),
		},
	}
}

func bundleIssueCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
		Unbundler string `flag:"unbundler" desc:"path of hatchery-unbundle on the worker"`
		Dir       string `flag:"dir" desc:"extraction directory on the worker (default $HOME/.hatchery)"`
	}
	return &cli.Command{
		Name:    "issue",
		Summary: "Build a bundle and print the worker boot script",
		Description: `Build, encrypt and upload a fresh startup bundle for the agent and
print a shell snippet for the worker's startup script. The snippet
contains the decryption key: pass it to the worker over the channel
you use for its startup script and nowhere else.

With --json the handoff (url, key, expires_at) is printed instead.`,
		Usage: "hatchery bundle issue [flags] <agent-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("issue", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery bundle issue [flags] <agent-id>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("bundle/issue")
			if err != nil {
				return err
			}
			defer env.Close()

			handoff, err := env.hatch.IssueBundle(ctx, args[0])
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(handoff); done {
				return err
			}
			fmt.Print(bundle.BootScript(handoff, bundle.BootScriptOptions{
				Unbundler: params.Unbundler,
				Dir:       params.Dir,
			}))
			return nil
		},
	}
}

func bundleCleanupCommand() *cli.Command {
	var params struct {
		globalFlags
	}
	return &cli.Command{
		Name:    "cleanup",
		Summary: "Remove an agent's uploaded bundle",
		Description: `Delete the agent's startup bundle from the object store once the
worker has booted. Removing a bundle that is already gone succeeds.`,
		Usage: "hatchery bundle cleanup <agent-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cleanup", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery bundle cleanup <agent-id>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("bundle/cleanup")
			if err != nil {
				return err
			}
			defer env.Close()

			return cli.Classify(env.hatch.CleanupBundle(ctx, args[0]))
		},
	}
}
