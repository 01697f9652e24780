// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// hatchery-unbundle runs on a freshly booted worker. It downloads the
// agent's encrypted startup bundle from a signed URL, decrypts it with
// the key handed over in an environment variable, and extracts the
// config, environment file and channel credentials into a directory.
//
// The key is never accepted on the command line, where other users of
// the machine could read it from the process table.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/lib/bundle"
	"github.com/bureau-foundation/hatchery/lib/process"
	"github.com/bureau-foundation/hatchery/lib/version"
)

const defaultKeyEnv = "HATCHERY_BUNDLE_KEY"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr, logger); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	url     string
	keyEnv  string
	dir     string
	timeout time.Duration
}

func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer, logger *slog.Logger) error {
	var opts options
	flagSet := pflag.NewFlagSet("hatchery-unbundle", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.url, "url", "", "signed bundle download URL (required)")
	flagSet.StringVar(&opts.keyEnv, "key-env", defaultKeyEnv, "environment variable holding the base64 bundle key")
	flagSet.StringVar(&opts.dir, "dir", "", "directory to extract into (required)")
	flagSet.DurationVar(&opts.timeout, "timeout", time.Minute, "download timeout")
	showVersion := flagSet.Bool("version", false, "print version information")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintf(stderr, "hatchery-unbundle %s\n", version.Info())
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if opts.url == "" || opts.dir == "" {
		return errors.New("--url and --dir are required")
	}
	key := getenv(opts.keyEnv)
	if key == "" {
		return fmt.Errorf("bundle key not set: $%s is empty", opts.keyEnv)
	}

	downloadCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	blob, err := bundle.Download(downloadCtx, http.DefaultClient, opts.url)
	if err != nil {
		return err
	}
	logger.Info("bundle downloaded", "bytes", len(blob))

	startup, err := bundle.Decrypt(blob, key)
	if err != nil {
		return err
	}
	if err := bundle.Extract(startup, opts.dir); err != nil {
		return err
	}
	logger.Info("bundle extracted",
		"dir", opts.dir,
		"env_vars", len(startup.EnvVars),
		"channels", len(startup.ChannelCredentials),
	)
	return nil
}
