// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/hatchery/lib/bundle"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secret"
)

// serveBundle encrypts startup under a fresh key, serves it from a
// test server and returns the URL and base64 key.
func serveBundle(t *testing.T, startup *hatching.StartupBundle) (string, string) {
	t.Helper()
	key, err := secret.Random(bundle.KeySize)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	t.Cleanup(func() { key.Close() })

	plaintext, err := bundle.Marshal(startup)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	blob, err := bundle.Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/agent-1/credentials/startup-bundle.enc" {
			http.NotFound(writer, request)
			return
		}
		writer.Write(blob)
	}))
	t.Cleanup(server.Close)
	return server.URL + "/agent-1/credentials/startup-bundle.enc", bundle.EncodeKey(key)
}

func runUnbundle(t *testing.T, env map[string]string, args ...string) error {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return run(context.Background(), args, func(name string) string { return env[name] }, io.Discard, logger)
}

func TestUnbundle(t *testing.T) {
	url, key := serveBundle(t, &hatching.StartupBundle{
		ConfigJSON: `{"gateway":{"port":18789}}`,
		EnvVars:    map[string]string{"OPENAI_API_KEY": "sk-test"},
		ChannelCredentials: map[string]string{
			"whatsapp": base64.StdEncoding.EncodeToString([]byte(`{"session":"s"}`)),
		},
	})
	dir := filepath.Join(t.TempDir(), "hatchery")

	err := runUnbundle(t, map[string]string{defaultKeyEnv: key}, "--url", url, "--dir", dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	config, err := os.ReadFile(filepath.Join(dir, bundle.ConfigFile))
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if string(config) != `{"gateway":{"port":18789}}` {
		t.Errorf("config = %s", config)
	}
	env, err := os.ReadFile(filepath.Join(dir, bundle.EnvFile))
	if err != nil {
		t.Fatalf("reading env file: %v", err)
	}
	if !strings.Contains(string(env), "OPENAI_API_KEY='sk-test'") {
		t.Errorf("env file = %q", env)
	}
	credentials, err := os.ReadFile(filepath.Join(dir, bundle.CredentialsDir, "whatsapp", "default", "creds.json"))
	if err != nil {
		t.Fatalf("reading channel credentials: %v", err)
	}
	if string(credentials) != `{"session":"s"}` {
		t.Errorf("credentials = %s", credentials)
	}
}

func TestUnbundleCustomKeyVariable(t *testing.T) {
	url, key := serveBundle(t, &hatching.StartupBundle{ConfigJSON: "{}"})
	dir := t.TempDir()
	err := runUnbundle(t, map[string]string{"BOOT_KEY": key}, "--url", url, "--dir", dir, "--key-env", "BOOT_KEY")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestUnbundleWrongKey(t *testing.T) {
	url, _ := serveBundle(t, &hatching.StartupBundle{ConfigJSON: "{}"})
	other, err := secret.Random(bundle.KeySize)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	defer other.Close()

	dir := filepath.Join(t.TempDir(), "out")
	err = runUnbundle(t, map[string]string{defaultKeyEnv: bundle.EncodeKey(other)}, "--url", url, "--dir", dir)
	if !errors.Is(err, bundle.ErrDecryptionFailed) {
		t.Fatalf("error = %v, want ErrDecryptionFailed", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output directory created despite failed decryption: %v", err)
	}
}

func TestUnbundleArguments(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"missing url", map[string]string{defaultKeyEnv: "k"}, []string{"--dir", "/tmp/x"}, "--url and --dir"},
		{"missing key", nil, []string{"--url", "http://127.0.0.1:1/b", "--dir", "/tmp/x"}, "$" + defaultKeyEnv},
		{"positional", map[string]string{defaultKeyEnv: "k"}, []string{"--url", "u", "--dir", "d", "extra"}, "unexpected argument"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := runUnbundle(t, test.env, test.args...)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("error = %v, want mention of %q", err, test.want)
			}
		})
	}
}

func TestUnbundleDownloadFailure(t *testing.T) {
	url, key := serveBundle(t, &hatching.StartupBundle{ConfigJSON: "{}"})
	err := runUnbundle(t, map[string]string{defaultKeyEnv: key}, "--url", url+".missing", "--dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v, want download 404", err)
	}
}
