// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler for hatchery
// binaries. [Fatal] reports an error to stderr, where the structured
// logger may not exist yet, and exits with a code the error chooses.
package process
