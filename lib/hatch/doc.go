// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hatch orchestrates an agent's life in the control plane:
// creation (config, manifest and channel credential records in one
// call), startup bundle issue and cleanup, saved templates, channel
// credential storage and deletion.
//
// The package holds no state of its own. Every operation reads and
// writes through the agent store, the secret store and the bundle
// service it is built with, so several Services over the same store
// see the same agents.
package hatch
