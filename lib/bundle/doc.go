// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle hands an agent's resolved secrets to its worker at
// boot.
//
// [Service.Create] resolves the agent's config template, environment
// variables and paired channel credentials, encrypts the result under
// a fresh AES-256-GCM key, uploads the ciphertext to the agent's
// bucket and returns a [Handoff]: a short-lived signed download URL
// plus the base64 key. The key is never written to storage. It reaches
// the worker only inside the boot script produced by [BootScript], so
// a leaked object is useless without it and a leaked URL stops working
// after ten minutes.
//
// The worker side runs [Download], [Decrypt] and [Extract] (wrapped by
// cmd/hatchery-unbundle) to lay the bundle out on disk.
//
// Blob format:
//
//	[Nonce: 12 bytes] [AES-256-GCM ciphertext + 16-byte tag]
//
// No additional data is authenticated. The plaintext is UTF-8 JSON
// with exactly three members: config_json (string), env_vars
// (string to string) and channel_credentials (channel name to base64
// credential bytes).
package bundle
