// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/bureau-foundation/hatchery/lib/netutil"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secret"
	"github.com/bureau-foundation/hatchery/lib/version"
)

// Layout of an extracted bundle, relative to the target directory.
const (
	ConfigFile = "agent.json"
	EnvFile    = ".env"

	// CredentialsDir holds <channel>/default/creds.json per paired
	// channel.
	CredentialsDir = "credentials"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Download fetches a bundle blob from a signed URL.
func Download(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bundle: building download request: %w", err)
	}
	request.Header.Set("User-Agent", version.UserAgent("hatchery-unbundle"))

	response, err := client.Do(request)
	if err != nil {
		// The URL carries a signature; keep it out of the error.
		return nil, fmt.Errorf("bundle: downloading: %w", redactURLError(err))
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle: download returned %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
	}
	blob, err := netutil.ReadBlob(response.Body)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading download: %w", err)
	}
	return blob, nil
}

func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// Extract writes a decrypted bundle under dir:
//
//	agent.json                              resolved config
//	.env                                    export NAME='value' per line
//	credentials/<channel>/default/creds.json per paired channel
//
// Files are written 0600 and directories 0700. Values in .env are
// single-quoted with embedded quotes escaped, so sourcing the file
// never evaluates them.
func Extract(startup *hatching.StartupBundle, dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("bundle: creating %s: %w", dir, err)
	}
	if err := writePrivate(filepath.Join(dir, ConfigFile), []byte(startup.ConfigJSON)); err != nil {
		return err
	}

	env, err := EnvFileContents(startup.EnvVars)
	if err != nil {
		return err
	}
	defer secret.Zero(env)
	if err := writePrivate(filepath.Join(dir, EnvFile), env); err != nil {
		return err
	}

	for channel, encoded := range startup.ChannelCredentials {
		if !hatching.ChannelType(channel).IsValid() {
			return fmt.Errorf("bundle: unknown channel %q in bundle", channel)
		}
		credentials, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("bundle: credentials for %s are not base64: %w", channel, err)
		}
		channelDir := filepath.Join(dir, CredentialsDir, channel, "default")
		if err := os.MkdirAll(channelDir, 0o700); err != nil {
			return fmt.Errorf("bundle: creating %s: %w", channelDir, err)
		}
		err = writePrivate(filepath.Join(channelDir, "creds.json"), credentials)
		secret.Zero(credentials)
		if err != nil {
			return err
		}
	}
	return nil
}

// EnvFileContents renders env vars as shell export lines sorted by
// name.
func EnvFileContents(envVars map[string]string) ([]byte, error) {
	names := make([]string, 0, len(envVars))
	for name := range envVars {
		if !envNamePattern.MatchString(name) {
			return nil, fmt.Errorf("bundle: %q is not a valid environment variable name", name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var builder strings.Builder
	for _, name := range names {
		builder.WriteString("export ")
		builder.WriteString(name)
		builder.WriteByte('=')
		builder.WriteString(ShellQuote(envVars[name]))
		builder.WriteByte('\n')
	}
	return []byte(builder.String()), nil
}

// ShellQuote wraps value in single quotes, replacing each embedded
// single quote with '"'"'.
func ShellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func writePrivate(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("bundle: writing %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("bundle: restricting %s: %w", path, err)
	}
	return nil
}
