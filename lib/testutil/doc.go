// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for hatchery packages.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the select
// with a time.After fallback so that tests driving goroutines through
// a fake clock still cannot hang forever. They are the only place in
// the test suite where real wall-clock timeouts appear.
//
// [Drain] collects everything a channel delivers until it is closed,
// which is how pairing tests assert on the full event stream of a
// finished session.
//
// All helpers call t.Fatalf on failure.
package testutil
