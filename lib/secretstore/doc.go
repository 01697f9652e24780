// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secretstore holds opaque secret values addressed by refs.
//
// A ref has the form "secret:<owner>/<name>" and is the only handle
// the rest of hatchery keeps for a secret: agent configs, channel
// credential records and registered credentials store refs, never
// values. Values come back from [Store.Get] in a [secret.Buffer] that
// the caller must Close.
//
// [Sealed] is the persistent implementation: each value is age-sealed
// to the store's x25519 recipient and kept in SQLite, so the database
// file alone reveals nothing. [Memory] is for tests.
package secretstore
