// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/hatchery/lib/secret"
)

// ReadSecret reads a secret value. source "" prompts on the terminal
// with echo disabled, "-" reads all of stdin, anything else is a file
// path. Trailing newlines are stripped and an empty value is rejected.
func ReadSecret(source, prompt string) (*secret.Buffer, error) {
	var (
		data []byte
		err  error
	)
	switch source {
	case "":
		stdinFileDescriptor := int(os.Stdin.Fd())
		if !term.IsTerminal(stdinFileDescriptor) {
			return nil, Validation("no terminal available for an interactive prompt (use --value-file)")
		}
		fmt.Fprintf(os.Stderr, "%s: ", prompt)
		data, err = term.ReadPassword(stdinFileDescriptor)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, Internal("reading %s: %w", prompt, err)
		}
	case "-":
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, Internal("reading stdin: %w", err)
		}
	default:
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, Internal("reading %s: %w", source, err)
		}
	}
	return protect(data, source)
}

// protect moves data into a secret.Buffer and zeroes the original.
func protect(data []byte, source string) (*secret.Buffer, error) {
	defer secret.Zero(data)
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		if source == "" || source == "-" {
			return nil, Validation("empty secret value")
		}
		return nil, Validation("file %s is empty (after stripping trailing newlines)", source)
	}
	return secret.NewFromBytes(trimmed)
}
