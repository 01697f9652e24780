// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for hatchery
// binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time via -ldflags -X and default to "unknown" / "0.1.0-dev".
//
//	go build -ldflags "-X github.com/bureau-foundation/hatchery/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// [Info] is printed by "hatchery version"; [UserAgent] is sent on
// every worker gateway and bundle download request.
package version
