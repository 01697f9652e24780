// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is hatchery's CBOR configuration.
//
// Stored configuration templates and archived manifest snapshots are
// CBOR blobs. Encoding uses Core Deterministic Encoding (RFC 8949
// §4.2) so the same document always produces the same bytes, which
// keeps snapshot archives comparable byte-for-byte. Consumers import
// this package rather than fxamacker/cbor directly.
package codec
