// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/agentconfig"
	"github.com/bureau-foundation/hatchery/lib/hatch"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Summary: "Create, inspect and delete agents",
		Subcommands: []*cli.Command{
			agentCreateCommand(),
			agentStatusCommand(),
			agentListCommand(),
			agentSetWorkerCommand(),
			agentDeleteCommand(),
		},
	}
}

type agentCreateParams struct {
	globalFlags
	cli.JSONOutput
	Owner         string   `flag:"owner" desc:"owning user id (required)"`
	GatewayPort   int      `flag:"gateway-port" desc:"gateway port (default from config)"`
	Model         string   `flag:"model" desc:"primary model (default from config)"`
	Workspace     string   `flag:"workspace" desc:"workspace path on the worker (default from config)"`
	Channels      []string `flag:"channel" desc:"enable a channel (whatsapp, telegram, discord); repeatable"`
	AllowFrom     []string `flag:"allow-from" desc:"channel=sender allowed to message the agent; repeatable"`
	CredentialIDs []string `flag:"credential" desc:"registered credential id to expose; repeatable"`
	Template      string   `flag:"template" desc:"restore the manifest from a saved template"`
}

// channelSpecs builds the enabled channel list from --channel and
// --allow-from, keeping --channel order.
func (p *agentCreateParams) channelSpecs() ([]agentconfig.ChannelSpec, error) {
	allowed := make(map[hatching.ChannelType][]string)
	for _, entry := range p.AllowFrom {
		name, sender, ok := strings.Cut(entry, "=")
		if !ok || sender == "" {
			return nil, cli.Validation("--allow-from %q: want channel=sender", entry)
		}
		channel, err := parseChannel(name)
		if err != nil {
			return nil, err
		}
		allowed[channel] = append(allowed[channel], sender)
	}

	specs := make([]agentconfig.ChannelSpec, 0, len(p.Channels))
	for _, name := range p.Channels {
		channel, err := parseChannel(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, agentconfig.ChannelSpec{Type: channel, AllowFrom: allowed[channel]})
		delete(allowed, channel)
	}
	for channel := range allowed {
		return nil, cli.Validation("--allow-from names %s, which is not enabled with --channel", channel)
	}
	return specs, nil
}

func agentCreateCommand() *cli.Command {
	var params agentCreateParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create an agent and its hatching manifest",
		Description: `Create an agent: generate its configuration, store a fresh gateway
token, and build the hatching manifest. Each enabled channel adds an
interactive pairing step; pair it with 'hatchery pair watch' once the
worker is running.

With --template the manifest is restored from a saved template
instead of generated: completed steps stay completed and every other
step starts over as pending.`,
		Usage: "hatchery agent create --owner <user> [flags] <name>",
		Examples: []cli.Example{
			{
				Description: "Create an agent with an LLM credential and WhatsApp",
				Command:     "hatchery agent create --owner user-1 --credential 6f1c... --channel whatsapp --allow-from whatsapp=+15551234567 scout",
			},
			{
				Description: "Create an agent from a saved template",
				Command:     "hatchery agent create --owner user-1 --template support-bot support-2",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery agent create --owner <user> [flags] <name>"); err != nil {
				return err
			}
			if params.Owner == "" {
				return cli.Validation("--owner is required")
			}
			channels, err := params.channelSpecs()
			if err != nil {
				return err
			}

			env, err := params.openEnvironment("agent/create")
			if err != nil {
				return err
			}
			defer env.Close()

			request := hatch.CreateRequest{
				UserID:        params.Owner,
				Name:          args[0],
				GatewayPort:   params.GatewayPort,
				ModelPrimary:  params.Model,
				WorkspacePath: params.Workspace,
				Channels:      channels,
				CredentialIDs: params.CredentialIDs,
				FromTemplate:  params.Template,
			}
			if request.GatewayPort == 0 {
				request.GatewayPort = env.config.Defaults.GatewayPort
			}
			if request.ModelPrimary == "" {
				request.ModelPrimary = env.config.Defaults.ModelPrimary
			}
			if request.WorkspacePath == "" {
				request.WorkspacePath = env.config.Defaults.WorkspacePath
			}

			created, err := env.hatch.CreateAgent(ctx, request)
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(created); done {
				return err
			}
			fmt.Printf("Created agent %s (%s)\n", created.Agent.Name, created.Agent.ID)
			printSteps(created.Steps)
			if created.NeedsInteraction {
				fmt.Println("\nChannel steps need pairing once the worker is running:")
				for _, step := range created.Steps {
					if channel, ok := step.Type.Channel(); ok && !step.Status.IsDone() {
						fmt.Printf("  hatchery pair watch %s %s\n", created.Agent.ID, channel)
					}
				}
			}
			return nil
		},
	}
}

func agentStatusCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "status",
		Summary: "Show an agent's hatching progress",
		Usage:   "hatchery agent status [flags] <agent-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery agent status [flags] <agent-id>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("agent/status")
			if err != nil {
				return err
			}
			defer env.Close()

			agent, err := env.store.GetAgent(ctx, args[0])
			if err != nil {
				return cli.Classify(err)
			}
			progress, err := env.manifest.Progress(ctx, agent.ID)
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(progress); done {
				return err
			}
			fmt.Printf("Agent:    %s (%s)\n", agent.Name, agent.ID)
			fmt.Printf("Worker:   %s", agent.WorkerStatus)
			if agent.WorkerAddress != "" {
				fmt.Printf(" at %s:%d", agent.WorkerAddress, agent.GatewayPort)
			}
			fmt.Println()
			fmt.Printf("Hatching: %s (%d/%d steps done)\n\n", progress.Status, progress.Done, progress.Total)
			printSteps(progress.Steps)
			return nil
		},
	}
}

func agentListCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
		Owner string `flag:"owner" desc:"owning user id (required)"`
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List a user's agents",
		Usage:   "hatchery agent list --owner <user> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 0, "hatchery agent list --owner <user> [flags]"); err != nil {
				return err
			}
			if params.Owner == "" {
				return cli.Validation("--owner is required")
			}
			env, err := params.openEnvironment("agent/list")
			if err != nil {
				return err
			}
			defer env.Close()

			agents, err := env.store.ListAgents(ctx, params.Owner)
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(agents); done {
				return err
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "ID\tNAME\tWORKER\tHATCHING\n")
			for _, agent := range agents {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", agent.ID, agent.Name, agent.WorkerStatus, agent.HatchingStatus)
			}
			return writer.Flush()
		},
	}
}

func agentSetWorkerCommand() *cli.Command {
	var params struct {
		globalFlags
		Address string `flag:"address" desc:"worker IP address"`
	}
	return &cli.Command{
		Name:    "set-worker",
		Summary: "Record a worker status change",
		Description: `Record the lifecycle status of an agent's worker VM, and its address
once it has one. Pairing needs the worker to be running with an
address.

Statuses: creating, starting, running, stopped, error.`,
		Usage: "hatchery agent set-worker [--address <ip>] <agent-id> <status>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("set-worker", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery agent set-worker [--address <ip>] <agent-id> <status>"); err != nil {
				return err
			}
			status := hatching.WorkerStatus(args[1])
			if !status.IsValid() {
				return cli.Validation("unknown worker status %q", args[1])
			}
			env, err := params.openEnvironment("agent/set-worker")
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.hatch.SetWorker(ctx, args[0], status, params.Address); err != nil {
				return cli.Classify(err)
			}
			return nil
		},
	}
}

func agentDeleteCommand() *cli.Command {
	var params struct {
		globalFlags
	}
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete an agent and its secrets",
		Description: `Delete an agent: its manifest, config and channel records, the
gateway token and channel credentials in the secret store, and any
startup bundle left in the object store. Registered credentials are
not touched.`,
		Usage: "hatchery agent delete <agent-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery agent delete <agent-id>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("agent/delete")
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.hatch.DeleteAgent(ctx, args[0]); err != nil {
				return cli.Classify(err)
			}
			return nil
		},
	}
}

func printSteps(steps []hatching.ManifestStep) {
	writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "ORDER\tSTEP\tSTATUS\tID\n")
	for _, step := range steps {
		status := string(step.Status)
		if step.Status == hatching.StepFailed && step.ErrorMessage != "" {
			status += ": " + step.ErrorMessage
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", step.Order, step.Type, status, step.ID)
	}
	writer.Flush()
}
