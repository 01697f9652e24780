// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func templateCommand() *cli.Command {
	return &cli.Command{
		Name:    "template",
		Summary: "Save and reuse hatching manifests",
		Description: `A template is a snapshot of an agent's manifest. Creating an agent
with --template restores it: completed steps stay completed, every
other step starts over as pending.

Templates are exported and imported as JSON; comments and trailing
commas are accepted on import.`,
		Subcommands: []*cli.Command{
			templateSaveCommand(),
			templateExportCommand(),
			templateImportCommand(),
		},
	}
}

func templateSaveCommand() *cli.Command {
	var params struct {
		globalFlags
		Replace bool `flag:"replace" desc:"overwrite an existing template of the same name"`
	}
	return &cli.Command{
		Name:    "save",
		Summary: "Save an agent's manifest as a template",
		Usage:   "hatchery template save [--replace] <agent-id> <template-name>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("save", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery template save [--replace] <agent-id> <template-name>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("template/save")
			if err != nil {
				return err
			}
			defer env.Close()

			snapshot, err := env.hatch.SaveTemplate(ctx, args[0], args[1], params.Replace)
			if err != nil {
				return cli.Classify(err)
			}
			fmt.Fprintf(os.Stderr, "Saved template %q (%d steps)\n", args[1], len(snapshot.Steps))
			return nil
		},
	}
}

func templateExportCommand() *cli.Command {
	var params struct {
		globalFlags
	}
	return &cli.Command{
		Name:    "export",
		Summary: "Print a template as JSON",
		Usage:   "hatchery template export <template-name>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("export", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 1, "hatchery template export <template-name>"); err != nil {
				return err
			}
			env, err := params.openEnvironment("template/export")
			if err != nil {
				return err
			}
			defer env.Close()

			snapshot, err := env.store.GetTemplate(ctx, args[0])
			if err != nil {
				return cli.Classify(err)
			}
			return cli.WriteJSON(snapshot)
		},
	}
}

func templateImportCommand() *cli.Command {
	var params struct {
		globalFlags
		Owner   string `flag:"owner" desc:"owning user id (required)"`
		Replace bool   `flag:"replace" desc:"overwrite an existing template of the same name"`
	}
	return &cli.Command{
		Name:    "import",
		Summary: "Import a template from a JSON file",
		Usage:   "hatchery template import --owner <user> [--replace] <template-name> <file|->",
		Examples: []cli.Example{{
			Description: "Copy a template between installations",
			Command:     "hatchery template export support-bot | hatchery template import --owner user-1 --config other.yaml support-bot -",
		}},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("import", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, "hatchery template import --owner <user> [--replace] <template-name> <file|->"); err != nil {
				return err
			}
			if params.Owner == "" {
				return cli.Validation("--owner is required")
			}
			snapshot, err := readSnapshot(args[1])
			if err != nil {
				return err
			}

			env, err := params.openEnvironment("template/import")
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.hatch.ImportTemplate(ctx, args[0], params.Owner, snapshot, params.Replace); err != nil {
				return cli.Classify(err)
			}
			fmt.Fprintf(os.Stderr, "Imported template %q (%d steps)\n", args[0], len(snapshot.Steps))
			return nil
		},
	}
}

// readSnapshot parses a JSONC template document from path, or stdin
// for "-".
func readSnapshot(path string) (*hatching.Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, cli.Validation("reading template: %w", err)
	}
	var snapshot hatching.Snapshot
	if err := json.Unmarshal(jsonc.ToJSON(data), &snapshot); err != nil {
		return nil, cli.Validation("parsing template %s: %w", path, err)
	}
	return &snapshot, nil
}
