// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/service"
)

type serveParams struct {
	globalFlags
	Listen string `flag:"listen" desc:"listen address (default objects.listen_address)"`
}

func serveCommand() *cli.Command {
	var params serveParams
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve signed startup bundle downloads",
		Description: `Run the object download server. Workers fetch their startup bundle
from the signed URL in their boot script; the server rejects forged
signatures (403) and expired URLs (410).

objects.public_url must route to this server for issued URLs to work.
Runs until interrupted.`,
		Usage: "hatchery serve [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("serve", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 0, "hatchery serve [flags]"); err != nil {
				return err
			}
			env, err := params.openEnvironment("serve")
			if err != nil {
				return err
			}
			defer env.Close()

			address := params.Listen
			if address == "" {
				address = env.config.Objects.ListenAddress
			}
			server := service.NewHTTPServer(service.HTTPServerConfig{
				Address: address,
				Handler: env.objects.Handler(),
				Logger:  env.logger,
			})
			if err := server.Serve(ctx); err != nil {
				return cli.Internal("%w", err)
			}
			return nil
		},
	}
}
