// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/agentconfig"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func secretCommand() *cli.Command {
	var params struct {
		globalFlags
		valueFileFlag
		Owner string `flag:"owner" desc:"owning user id (required)"`
	}
	return &cli.Command{
		Name:    "secret",
		Summary: "Manage stored secrets",
		Subcommands: []*cli.Command{{
			Name:    "put",
			Summary: "Store a secret and print its ref",
			Description: `Seal a value into the secret store under <owner>/<name> and print the
ref that configs and channel records point at. An existing secret with
the same name is replaced.`,
			Usage: "hatchery secret put --owner <user> [flags] <name>",
			Flags: func() *pflag.FlagSet {
				return cli.FlagsFromParams("put", &params)
			},
			Run: func(ctx context.Context, args []string) error {
				if err := requireArgs(args, 1, "hatchery secret put --owner <user> [flags] <name>"); err != nil {
					return err
				}
				if params.Owner == "" {
					return cli.Validation("--owner is required")
				}
				value, err := params.read("Secret value")
				if err != nil {
					return err
				}
				defer value.Close()

				env, err := params.openEnvironment("secret/put")
				if err != nil {
					return err
				}
				defer env.Close()

				ref, err := env.secrets.Put(ctx, params.Owner, args[0], value.Bytes())
				if err != nil {
					return cli.Validation("%w", err)
				}
				fmt.Println(ref)
				return nil
			},
		}},
	}
}

func credentialCommand() *cli.Command {
	return &cli.Command{
		Name:    "credential",
		Summary: "Manage registered API credentials",
		Description: `Register API credentials (LLM providers and utility services) that
agents can be given at creation. The value is sealed in the secret
store; the registry keeps the display name, purpose and secret ref.

The display name decides which environment variable the credential is
exposed as: "OpenAI production" becomes OPENAI_API_KEY. LLM credentials
whose name and description match no provider fall back to
ANTHROPIC_API_KEY.`,
		Subcommands: []*cli.Command{
			credentialAddCommand(),
			credentialListCommand(),
		},
	}
}

func credentialAddCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
		valueFileFlag
		Owner       string `flag:"owner" desc:"owning user id (required)"`
		Purpose     string `flag:"purpose" desc:"llm or utility" default:"llm"`
		Description string `flag:"description" desc:"free-form description"`
	}
	return &cli.Command{
		Name:    "add",
		Summary: "Register a credential",
		Usage:   "hatchery credential add --owner <user> [flags] <display-name>",
		Examples: []cli.Example{{
			Description: "Register an OpenAI key read from a file",
			Command:     "hatchery credential add --owner user-1 --value-file openai.key OpenAI",
		}},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("add", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery credential add --owner <user> [flags] <display-name>"); err != nil {
				return err
			}
			if params.Owner == "" {
				return cli.Validation("--owner is required")
			}
			purpose := hatching.CredentialPurpose(params.Purpose)
			if purpose != hatching.PurposeLLM && purpose != hatching.PurposeUtility {
				return cli.Validation("--purpose must be llm or utility, got %q", params.Purpose)
			}
			value, err := params.read("Credential value")
			if err != nil {
				return err
			}
			defer value.Close()

			env, err := params.openEnvironment("credential/add")
			if err != nil {
				return err
			}
			defer env.Close()

			id := uuid.NewString()
			ref, err := env.secrets.Put(ctx, params.Owner, "credential-"+id[:8], value.Bytes())
			if err != nil {
				return cli.Validation("%w", err)
			}
			credential := &hatching.Credential{
				ID:          id,
				Owner:       params.Owner,
				Name:        args[0],
				Description: params.Description,
				Purpose:     purpose,
				SecretRef:   ref,
			}
			if err := env.store.CreateCredential(ctx, credential); err != nil {
				return cli.Classify(err)
			}

			if done, err := params.EmitJSON(credential); done {
				return err
			}
			placeholder, ok := agentconfig.PlaceholderFor(*credential)
			if !ok {
				placeholder = "(not exposed to agent configs)"
			}
			fmt.Printf("%s\t%s\n", credential.ID, placeholder)
			return nil
		},
	}
}

func credentialListCommand() *cli.Command {
	var params struct {
		globalFlags
		cli.JSONOutput
		Owner string `flag:"owner" desc:"owning user id (required)"`
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List a user's credentials",
		Usage:   "hatchery credential list --owner <user> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 0, "hatchery credential list --owner <user> [flags]"); err != nil {
				return err
			}
			if params.Owner == "" {
				return cli.Validation("--owner is required")
			}
			env, err := params.openEnvironment("credential/list")
			if err != nil {
				return err
			}
			defer env.Close()

			credentials, err := env.store.ListCredentials(ctx, params.Owner)
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(credentials); done {
				return err
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(writer, "ID\tNAME\tPURPOSE\tVARIABLE\n")
			for _, credential := range credentials {
				placeholder, _ := agentconfig.PlaceholderFor(credential)
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", credential.ID, credential.Name, credential.Purpose, placeholder)
			}
			return writer.Flush()
		},
	}
}
