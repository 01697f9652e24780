// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
)

func channelCommand() *cli.Command {
	return &cli.Command{
		Name:    "channel",
		Summary: "Manage channel credentials",
		Subcommands: []*cli.Command{
			channelStoreCommand(),
			channelDisconnectCommand(),
			channelListCommand(),
		},
	}
}

func channelStoreCommand() *cli.Command {
	var params struct {
		globalFlags
		valueFileFlag
	}
	return &cli.Command{
		Name:    "store",
		Summary: "Save the credential blob a worker reported for a channel",
		Description: `Seal a channel's credential blob (the session state a worker produces
after pairing) into the secret store and point the channel record at
it. The next startup bundle carries it, so a rebuilt worker resumes
the session without pairing again.`,
		Usage: "hatchery channel store [--value-file <path>] <agent-id> <channel>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("store", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery channel store [--value-file <path>] <agent-id> <channel>"); err != nil {
				return err
			}
			channel, err := parseChannel(args[1])
			if err != nil {
				return err
			}
			value, err := params.read("Channel credentials")
			if err != nil {
				return err
			}
			defer value.Close()

			env, err := params.openEnvironment("channel/store")
			if err != nil {
				return err
			}
			defer env.Close()

			return cli.Classify(env.hatch.StoreChannelCredentials(ctx, args[0], channel, value.Bytes()))
		},
	}
}

func channelDisconnectCommand() *cli.Command {
	var params struct {
		globalFlags
	}
	return &cli.Command{
		Name:    "disconnect",
		Summary: "Mark a channel unpaired",
		Description: `Mark the channel credential unpaired. Later startup bundles leave the
channel out until it is paired again. The manifest step is not
changed.`,
		Usage: "hatchery channel disconnect <agent-id> <channel>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("disconnect", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery channel disconnect <agent-id> <channel>"); err != nil {
				return err
			}
			channel, err := parseChannel(args[1])
			if err != nil {
				return err
			}
			env, err := params.openEnvironment("channel/disconnect")
			if err != nil {
				return err
			}
			defer env.Close()

			return cli.Classify(env.pairing.Disconnect(ctx, args[0], channel))
		},
	}
}

func channelListCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List an agent's channels and their pairing state",
		Usage:   "hatchery channel list [flags] <agent-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery channel list [flags] <agent-id>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("channel/list")
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.store.GetAgent(ctx, args[0]); err != nil {
				return cli.Classify(err)
			}
			channels, err := env.store.ListChannelCredentials(ctx, args[0])
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(channels); done {
				return err
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "CHANNEL\tPAIRED\tACCOUNT\tLAST CONNECTED\n")
			for _, channel := range channels {
				connected := "-"
				if channel.LastConnectedAt != nil {
					connected = channel.LastConnectedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(writer, "%s\t%t\t%s\t%s\n", channel.ChannelType, channel.IsPaired, channel.AccountID, connected)
			}
			return writer.Flush()
		},
	}
}
