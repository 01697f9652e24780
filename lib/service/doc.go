// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the long-running server scaffolding used by
// "hatchery serve": a TCP HTTP server whose lifecycle follows a
// context, with a readiness signal and graceful shutdown.
//
// Callers compose the server with their own handler in main() rather
// than subclassing a framework.
package service
