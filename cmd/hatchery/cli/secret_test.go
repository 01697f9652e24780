// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("sk-test\r\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	buffer, err := ReadSecret(path, "Value")
	if err != nil {
		t.Fatalf("ReadSecret: %v", err)
	}
	defer buffer.Close()
	if buffer.String() != "sk-test" {
		t.Errorf("value = %q, want trailing newlines stripped", buffer.String())
	}
}

func TestReadSecretRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSecret(path, "Value"); err == nil {
		t.Error("empty file accepted")
	}
	if _, err := ReadSecret(filepath.Join(t.TempDir(), "missing"), "Value"); err == nil {
		t.Error("missing file accepted")
	}
}
