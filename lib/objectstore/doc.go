// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore stores blobs in buckets and hands out signed,
// time-limited download URLs for them.
//
// [Filesystem] keeps objects under a root directory and signs URLs
// with a keyed BLAKE3 MAC. The MAC key is derived with HKDF-SHA256
// from a 32-byte master key, so the master key itself never signs
// anything directly. [Filesystem.Handler] serves the signed URLs and
// enforces their expiry with the store's clock.
//
// [Memory] is for tests. Its URLs use the memory:// scheme and are
// resolved with [Memory.Fetch], which applies the same expiry rule.
package objectstore
