// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// A Buffer is an anonymous mmap region locked against swap (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeros, unlocks and
// unmaps it. Hatchery keeps bundle encryption keys, the secret store's
// age identity, the URL signing master key and decrypted bundle
// plaintext in Buffers for as long as they are needed and no longer.
package secret
