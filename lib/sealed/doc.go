// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for sealing values at rest.
//
// The sealed secret store encrypts every secret value to the store's
// x25519 recipient before writing it to SQLite, and opens it with the
// store identity on read. Identities and opened plaintext are returned
// as [secret.Buffer] values.
package sealed
