// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/pairing"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func pairCommand() *cli.Command {
	return &cli.Command{
		Name:    "pair",
		Summary: "Pair an agent's messaging channels",
		Description: `Pair a channel enabled on an agent with the operator's account. The
agent's worker must be running with a recorded address.

'pair watch' starts the pairing if needed and then prints pairing
codes as the worker produces them until the channel is paired.
Interrupting the watch leaves the pairing in progress; run 'pair
watch' again to resume, or 'pair cancel' to abandon it.`,
		Subcommands: []*cli.Command{
			pairStartCommand(),
			pairWatchCommand(),
			pairCancelCommand(),
		},
	}
}

func pairStartCommand() *cli.Command {
	var params struct {
		globalFlags
	}
	return &cli.Command{
		Name:    "start",
		Summary: "Ask the worker to begin pairing",
		Usage:   "hatchery pair start <agent-id> <channel>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("start", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery pair start <agent-id> <channel>"); err != nil {
				return err
			}
			channel, err := parseChannel(args[1])
			if err != nil {
				return err
			}
			env, err := params.openEnvironment("pair/start")
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.pairing.Start(ctx, args[0], channel); err != nil {
				return cli.Classify(err)
			}
			fmt.Fprintf(os.Stderr, "Pairing %s started. Run 'hatchery pair watch %s %s' for codes.\n", channel, args[0], channel)
			return nil
		},
	}
}

func pairWatchCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "watch",
		Summary: "Print pairing codes until the channel is paired",
		Description: `Start the pairing if the channel step is pending or failed, then poll
the worker and print each new pairing code until the channel is
paired. With --json every event is printed as one JSON object per
line.`,
		Usage: "hatchery pair watch [flags] <agent-id> <channel>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("watch", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery pair watch [flags] <agent-id> <channel>"); err != nil {
				return err
			}
			channel, err := parseChannel(args[1])
			if err != nil {
				return err
			}
			env, err := params.openEnvironment("pair/watch")
			if err != nil {
				return err
			}
			defer env.Close()

			agentID := args[0]
			step, err := env.manifest.GetStepByType(ctx, agentID, channel.StepType())
			if err != nil {
				return cli.Classify(err)
			}
			if step.Status == hatching.StepPending || step.Status == hatching.StepFailed {
				if _, err := env.pairing.Start(ctx, agentID, channel); err != nil {
					return cli.Classify(err)
				}
			}

			session, err := env.pairing.Watch(ctx, agentID, channel)
			if err != nil {
				return cli.Classify(err)
			}
			defer session.Stop()

			encoder := json.NewEncoder(os.Stdout)
			for event := range session.Events() {
				if params.OutputJSON {
					if err := encoder.Encode(event); err != nil {
						return cli.Internal("writing event: %w", err)
					}
				} else {
					printEvent(event)
				}
				if event.Type == pairing.EventPaired {
					return nil
				}
			}
			if ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "Stopped watching; pairing of %s is still in progress.\n", channel)
				return nil
			}
			return cli.Transient("pairing watch ended before %s was paired", channel)
		},
	}
}

func printEvent(event pairing.Event) {
	switch event.Type {
	case pairing.EventCode:
		fmt.Printf("Pairing code: %s", event.Code)
		if event.ExpiresAt != "" {
			fmt.Printf(" (expires %s)", event.ExpiresAt)
		}
		fmt.Println()
	case pairing.EventPaired:
		fmt.Printf("Paired %s as %s\n", event.Channel, event.AccountID)
	case pairing.EventError:
		fmt.Fprintf(os.Stderr, "worker error: %s\n", event.Message)
	}
}

func pairCancelCommand() *cli.Command {
	var params struct {
		globalFlags
	}
	return &cli.Command{
		Name:    "cancel",
		Summary: "Abandon an in-progress pairing",
		Description: `Return the channel step to pending. A 'pair watch' running in another
terminal is not stopped; interrupt it with ^C.`,
		Usage: "hatchery pair cancel <agent-id> <channel>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cancel", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery pair cancel <agent-id> <channel>"); err != nil {
				return err
			}
			channel, err := parseChannel(args[1])
			if err != nil {
				return err
			}
			env, err := params.openEnvironment("pair/cancel")
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.pairing.Cancel(ctx, args[0], channel); err != nil {
				return cli.Classify(err)
			}
			return nil
		},
	}
}
