// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hatching defines the data model shared by hatchery's
// provisioning components: agents, their generated configuration,
// the hatching manifest (an ordered per-agent checklist of setup
// steps), channel credentials, registered credentials, the startup
// bundle payload, and manifest snapshots.
//
// The step type set is closed. Adding a step type means adding a
// constant here and teaching the config generator to emit it; there
// is no plugin mechanism.
//
// Hatching status is derived from step states and is never assigned
// directly. See lib/manifest for the aggregation rule.
//
// This package depends on no other hatchery packages.
package hatching
