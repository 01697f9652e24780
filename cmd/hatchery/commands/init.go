// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/objectstore"
	"github.com/bureau-foundation/hatchery/lib/sealed"
	"github.com/bureau-foundation/hatchery/lib/secret"
)

type initParams struct {
	globalFlags
}

func initCommand() *cli.Command {
	var params initParams
	return &cli.Command{
		Name:    "init",
		Summary: "Create data directories and keys",
		Description: `Create the configured data directories and generate the two keys
hatchery needs: the age identity that seals stored secrets, and the
master key that object download URLs are signed with.

Existing keys are never overwritten. Losing the identity makes every
stored secret unreadable.`,
		Usage: "hatchery init [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("init", &params)
		},
		Run: func(_ context.Context, args []string) error {
			if err := requireArgs(args, 0, "hatchery init [flags]"); err != nil {
				return err
			}
			cfg, err := params.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return cli.Internal("%w", err)
			}
			logger := cli.NewCommandLogger(params.Verbose).With("command", "init")

			identityPath := filepath.Join(cfg.Paths.Keys, identityFile)
			created, err := writeKeyOnce(identityPath, func() (*secret.Buffer, error) {
				keypair, err := sealed.GenerateKeypair()
				if err != nil {
					return nil, err
				}
				return keypair.Identity, nil
			})
			if err != nil {
				return err
			}
			logger.Info("secret store identity", "path", identityPath, "created", created)

			masterKeyPath := filepath.Join(cfg.Paths.Keys, masterKeyFile)
			created, err = writeKeyOnce(masterKeyPath, func() (*secret.Buffer, error) {
				return secret.Random(objectstore.MasterKeySize)
			})
			if err != nil {
				return err
			}
			logger.Info("object signing key", "path", masterKeyPath, "created", created)

			fmt.Printf("hatchery initialized under %s\n", cfg.Paths.Root)
			return nil
		},
	}
}

// writeKeyOnce writes a freshly generated key to path with mode 0600
// unless the file already exists. It reports whether it wrote one.
func writeKeyOnce(path string, generate func() (*secret.Buffer, error)) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, cli.Internal("checking %s: %w", path, err)
	}

	key, err := generate()
	if err != nil {
		return false, cli.Internal("generating %s: %w", filepath.Base(path), err)
	}
	defer key.Close()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false, cli.Internal("creating %s: %w", path, err)
	}
	if _, err := file.Write(key.Bytes()); err != nil {
		file.Close()
		os.Remove(path)
		return false, cli.Internal("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return false, cli.Internal("writing %s: %w", path, err)
	}
	return true, nil
}
