// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the hatchery CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in
// cmd/hatchery/commands and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and structured help output.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3).
//
// Errors returned from Run are classified with [ToolError] categories.
// [Classify] maps the library sentinel errors (not found, conflict,
// invalid transition, ...) onto categories, and each category has
// its own process exit code.
package cli
