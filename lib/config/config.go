// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// DefaultGatewayPort is the worker gateway port used when an agent
// request does not name one.
const DefaultGatewayPort = 18789

// Config is the master configuration for hatchery.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Objects  ObjectsConfig  `yaml:"objects"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Worker   WorkerConfig   `yaml:"worker"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Objects  *ObjectsConfig  `yaml:"objects,omitempty"`
	Defaults *DefaultsConfig `yaml:"defaults,omitempty"`
	Worker   *WorkerConfig   `yaml:"worker,omitempty"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// Root is the base directory for hatchery data.
	Root string `yaml:"root"`

	// StateDB is the SQLite database holding agents, configs,
	// manifest steps, channel credentials, credentials and templates.
	StateDB string `yaml:"state_db"`

	// SecretsDB is the SQLite database holding age-sealed secrets.
	SecretsDB string `yaml:"secrets_db"`

	// Objects is the root directory of the filesystem object store.
	Objects string `yaml:"objects"`

	// Keys holds the secret store's age identity and the object
	// store's URL signing key.
	Keys string `yaml:"keys"`
}

// ObjectsConfig configures the object download server.
type ObjectsConfig struct {
	// ListenAddress is where "hatchery serve" listens.
	ListenAddress string `yaml:"listen_address"`

	// PublicURL is the externally reachable base of the download
	// server. Signed URLs are built on it.
	PublicURL string `yaml:"public_url"`
}

// DefaultsConfig holds values applied to agent requests that leave
// them unset.
type DefaultsConfig struct {
	GatewayPort   int    `yaml:"gateway_port"`
	ModelPrimary  string `yaml:"model_primary"`
	WorkspacePath string `yaml:"workspace_path"`
}

// WorkerConfig configures calls to an agent's worker gateway.
type WorkerConfig struct {
	// RequestTimeout bounds each pairing API call. Go duration syntax.
	RequestTimeout string `yaml:"request_timeout"`

	// Scheme is "http" or "https".
	Scheme string `yaml:"scheme"`
}

// Default returns a Config with development defaults. Load and
// LoadFile start from it before reading the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "hatchery")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			StateDB:   "${HATCHERY_ROOT}/state.db",
			SecretsDB: "${HATCHERY_ROOT}/secrets.db",
			Objects:   "${HATCHERY_ROOT}/objects",
			Keys:      "${HATCHERY_ROOT}/keys",
		},
		Objects: ObjectsConfig{
			ListenAddress: "127.0.0.1:8470",
			PublicURL:     "http://127.0.0.1:8470",
		},
		Defaults: DefaultsConfig{
			GatewayPort:   DefaultGatewayPort,
			ModelPrimary:  "anthropic/claude-sonnet-4-5",
			WorkspacePath: "~/workspace",
		},
		Worker: WorkerConfig{
			RequestTimeout: "10s",
			Scheme:         "http",
		},
	}
}

// Load loads configuration from the file named by HATCHERY_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("HATCHERY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HATCHERY_CONFIG environment variable not set; " +
			"set it to the path of your hatchery.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		setIfNonEmpty(&c.Paths.Root, paths.Root)
		setIfNonEmpty(&c.Paths.StateDB, paths.StateDB)
		setIfNonEmpty(&c.Paths.SecretsDB, paths.SecretsDB)
		setIfNonEmpty(&c.Paths.Objects, paths.Objects)
		setIfNonEmpty(&c.Paths.Keys, paths.Keys)
	}
	if objects := overrides.Objects; objects != nil {
		setIfNonEmpty(&c.Objects.ListenAddress, objects.ListenAddress)
		setIfNonEmpty(&c.Objects.PublicURL, objects.PublicURL)
	}
	if defaults := overrides.Defaults; defaults != nil {
		if defaults.GatewayPort != 0 {
			c.Defaults.GatewayPort = defaults.GatewayPort
		}
		setIfNonEmpty(&c.Defaults.ModelPrimary, defaults.ModelPrimary)
		setIfNonEmpty(&c.Defaults.WorkspacePath, defaults.WorkspacePath)
	}
	if worker := overrides.Worker; worker != nil {
		setIfNonEmpty(&c.Worker.RequestTimeout, worker.RequestTimeout)
		setIfNonEmpty(&c.Worker.Scheme, worker.Scheme)
	}
}

func setIfNonEmpty(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HATCHERY_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["HATCHERY_ROOT"] = c.Paths.Root

	c.Paths.StateDB = expandVars(c.Paths.StateDB, vars)
	c.Paths.SecretsDB = expandVars(c.Paths.SecretsDB, vars)
	c.Paths.Objects = expandVars(c.Paths.Objects, vars)
	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Names in vars take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// WorkerRequestTimeout parses Worker.RequestTimeout.
func (c *Config) WorkerRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Worker.RequestTimeout)
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	required := []struct{ name, value string }{
		{"paths.root", c.Paths.Root},
		{"paths.state_db", c.Paths.StateDB},
		{"paths.secrets_db", c.Paths.SecretsDB},
		{"paths.objects", c.Paths.Objects},
		{"paths.keys", c.Paths.Keys},
		{"objects.listen_address", c.Objects.ListenAddress},
		{"defaults.model_primary", c.Defaults.ModelPrimary},
		{"defaults.workspace_path", c.Defaults.WorkspacePath},
	}
	for _, field := range required {
		if field.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field.name))
		}
	}

	publicURL, err := url.Parse(c.Objects.PublicURL)
	switch {
	case c.Objects.PublicURL == "":
		errs = append(errs, fmt.Errorf("objects.public_url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("objects.public_url: %w", err))
	case publicURL.Scheme != "http" && publicURL.Scheme != "https":
		errs = append(errs, fmt.Errorf("objects.public_url must be http or https, got %q", publicURL.Scheme))
	case c.Environment == Production && publicURL.Scheme != "https":
		errs = append(errs, fmt.Errorf("objects.public_url must be https in production"))
	}

	if c.Defaults.GatewayPort < 1 || c.Defaults.GatewayPort > 65535 {
		errs = append(errs, fmt.Errorf("defaults.gateway_port out of range: %d", c.Defaults.GatewayPort))
	}

	if c.Worker.Scheme != "http" && c.Worker.Scheme != "https" {
		errs = append(errs, fmt.Errorf("worker.scheme must be http or https, got %q", c.Worker.Scheme))
	}
	if timeout, err := c.WorkerRequestTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("worker.request_timeout: %w", err))
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("worker.request_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories, including the
// parents of the database files. The keys directory is created 0700.
func (c *Config) EnsurePaths() error {
	directories := []struct {
		path string
		mode os.FileMode
	}{
		{c.Paths.Root, 0o755},
		{filepath.Dir(c.Paths.StateDB), 0o755},
		{filepath.Dir(c.Paths.SecretsDB), 0o755},
		{c.Paths.Objects, 0o755},
		{c.Paths.Keys, 0o700},
	}
	for _, directory := range directories {
		if directory.path == "" {
			continue
		}
		if err := os.MkdirAll(directory.path, directory.mode); err != nil {
			return fmt.Errorf("creating %s: %w", directory.path, err)
		}
	}
	return nil
}
