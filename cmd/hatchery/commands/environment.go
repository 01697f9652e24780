// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/agentconfig"
	"github.com/bureau-foundation/hatchery/lib/agentstore"
	"github.com/bureau-foundation/hatchery/lib/bundle"
	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/config"
	"github.com/bureau-foundation/hatchery/lib/hatch"
	"github.com/bureau-foundation/hatchery/lib/manifest"
	"github.com/bureau-foundation/hatchery/lib/objectstore"
	"github.com/bureau-foundation/hatchery/lib/pairing"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secret"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
	"github.com/bureau-foundation/hatchery/lib/workerapi"
)

// Key file names under paths.keys.
const (
	identityFile  = "secrets.age"
	masterKeyFile = "objects.key"
)

// globalFlags is embedded in every command's params.
type globalFlags struct {
	ConfigPath string `flag:"config" desc:"path to hatchery.yaml (default $HATCHERY_CONFIG)"`
	Verbose    bool   `flag:"verbose,v" desc:"log at debug level"`
}

func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.ConfigPath != "" {
		cfg, err = config.LoadFile(g.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, cli.Validation("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// environment is the wired control plane for one command.
type environment struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock

	store     *agentstore.Store
	secrets   *secretstore.Sealed
	objects   *objectstore.Filesystem
	manifest  *manifest.Service
	generator *agentconfig.Generator
	bundles   *bundle.Service
	hatch     *hatch.Service
	pairing   *pairing.Coordinator

	closers []func() error
}

// openEnvironment loads the configuration and opens every store.
// command names the logger scope, e.g. "bundle/issue".
func (g *globalFlags) openEnvironment(command string) (*environment, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	env := &environment{
		config: cfg,
		logger: cli.NewCommandLogger(g.Verbose).With("command", command),
		clock:  clock.Real(),
	}
	opened := false
	defer func() {
		if !opened {
			env.Close()
		}
	}()

	if err := cfg.EnsurePaths(); err != nil {
		return nil, cli.Internal("%w", err)
	}

	identity, err := secret.ReadFile(filepath.Join(cfg.Paths.Keys, identityFile))
	if err != nil {
		return nil, cli.Validation("reading secret store identity (run 'hatchery init' first): %w", err)
	}
	env.closers = append(env.closers, identity.Close)

	masterKey, err := secret.ReadFile(filepath.Join(cfg.Paths.Keys, masterKeyFile))
	if err != nil {
		return nil, cli.Validation("reading object signing key (run 'hatchery init' first): %w", err)
	}
	defer masterKey.Close()

	env.store, err = agentstore.Open(agentstore.Config{
		Path:   cfg.Paths.StateDB,
		Clock:  env.clock,
		Logger: env.logger,
	})
	if err != nil {
		return nil, cli.Internal("%w", err)
	}
	env.closers = append(env.closers, env.store.Close)

	env.secrets, err = secretstore.OpenSealed(secretstore.SealedConfig{
		Path:     cfg.Paths.SecretsDB,
		Identity: identity,
		Clock:    env.clock,
		Logger:   env.logger,
	})
	if err != nil {
		return nil, cli.Internal("%w", err)
	}
	env.closers = append(env.closers, env.secrets.Close)

	env.objects, err = objectstore.NewFilesystem(objectstore.FilesystemConfig{
		Root:      cfg.Paths.Objects,
		PublicURL: cfg.Objects.PublicURL,
		MasterKey: masterKey,
		Clock:     env.clock,
		Logger:    env.logger,
	})
	if err != nil {
		return nil, cli.Internal("%w", err)
	}
	env.closers = append(env.closers, env.objects.Close)

	if err := env.wire(); err != nil {
		return nil, cli.Internal("%w", err)
	}
	opened = true
	return env, nil
}

// wire builds the services over the opened stores.
func (e *environment) wire() error {
	var err error
	e.manifest, err = manifest.New(manifest.Config{Store: e.store, Clock: e.clock, Logger: e.logger})
	if err != nil {
		return err
	}
	e.generator, err = agentconfig.NewGenerator(agentconfig.GeneratorConfig{
		Secrets:     e.secrets,
		Credentials: e.store,
		Clock:       e.clock,
		Logger:      e.logger,
	})
	if err != nil {
		return err
	}
	e.bundles, err = bundle.New(bundle.Config{Secrets: e.secrets, Objects: e.objects, Clock: e.clock, Logger: e.logger})
	if err != nil {
		return err
	}
	e.hatch, err = hatch.New(hatch.Config{
		Store:     e.store,
		Secrets:   e.secrets,
		Manifest:  e.manifest,
		Generator: e.generator,
		Bundles:   e.bundles,
		Logger:    e.logger,
	})
	if err != nil {
		return err
	}

	timeout, err := e.config.WorkerRequestTimeout()
	if err != nil {
		return err
	}
	scheme := e.config.Worker.Scheme
	e.pairing, err = pairing.New(pairing.Config{
		Agents: e.store,
		Steps:  e.manifest,
		Connect: func(agent *hatching.Agent) (pairing.Worker, error) {
			return workerapi.ForAgent(agent, scheme, workerapi.Options{
				HTTPClient: http.DefaultClient,
				Timeout:    timeout,
			})
		},
		Clock:  e.clock,
		Logger: e.logger,
	})
	return err
}

// Close releases everything openEnvironment opened, newest first.
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && e.logger != nil {
			e.logger.Warn("closing environment", "error", err)
		}
	}
	e.closers = nil
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, count int, usage string) error {
	if len(args) != count {
		return cli.Validation("usage: %s", usage)
	}
	return nil
}

// parseChannel validates a channel name argument.
func parseChannel(name string) (hatching.ChannelType, error) {
	channel := hatching.ChannelType(name)
	if !channel.IsValid() {
		return "", cli.Validation("unknown channel %q (want one of %v)", name, hatching.Channels)
	}
	return channel, nil
}

// valueFileFlag is embedded by commands that read a secret value.
type valueFileFlag struct {
	ValueFile string `flag:"value-file" desc:"read the value from this file, or - for stdin (default: prompt)"`
}

func (v *valueFileFlag) read(prompt string) (*secret.Buffer, error) {
	return cli.ReadSecret(v.ValueFile, prompt)
}
