// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the hatchery CLI command tree.
//
// Every command that touches state opens an [environment]: the YAML
// configuration (--config or HATCHERY_CONFIG), the agent store, the
// age-sealed secret store, the filesystem object store and the
// services wired over them. Keys are created by "hatchery init" and
// live under paths.keys.
package commands
