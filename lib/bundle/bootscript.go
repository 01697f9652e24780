// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"fmt"
	"strings"
)

// BootScriptOptions controls the generated boot snippet.
type BootScriptOptions struct {
	// Unbundler is the hatchery-unbundle binary on the worker.
	// Defaults to "hatchery-unbundle" on PATH.
	Unbundler string

	// Dir is where the bundle is extracted. Defaults to
	// "$HOME/.hatchery".
	Dir string
}

// BootScript returns a POSIX shell snippet for a worker's startup
// script that downloads, decrypts and extracts the bundle described by
// handoff and then loads its environment. The key travels in an
// environment variable rather than on a command line, and is unset
// once the bundle is open.
func BootScript(handoff *Handoff, options BootScriptOptions) string {
	unbundler := options.Unbundler
	if unbundler == "" {
		unbundler = "hatchery-unbundle"
	}
	dir := ShellQuote(options.Dir)
	if options.Dir == "" {
		dir = `"$HOME/.hatchery"`
	}

	var script strings.Builder
	fmt.Fprintf(&script, "# Fetch and unpack the startup bundle (URL valid until %s).\n",
		handoff.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&script, "HATCHERY_BUNDLE_URL=%s\n", ShellQuote(handoff.URL))
	fmt.Fprintf(&script, "HATCHERY_BUNDLE_KEY=%s\n", ShellQuote(handoff.Key))
	script.WriteString("export HATCHERY_BUNDLE_KEY\n")
	fmt.Fprintf(&script, "%s --url \"$HATCHERY_BUNDLE_URL\" --key-env HATCHERY_BUNDLE_KEY --dir %s\n",
		ShellQuote(unbundler), dir)
	script.WriteString("unset HATCHERY_BUNDLE_URL HATCHERY_BUNDLE_KEY\n")
	fmt.Fprintf(&script, ". %s/%s\n", dir, EnvFile)
	return script.String()
}
