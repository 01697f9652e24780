// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that poll or stamp times (the pairing poll loop, the
// manifest service, signed URL expiry) take a Clock instead of calling
// the time package. Production wiring passes Real(); tests pass
// Fake(epoch) and step time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(fake)
//	fake.WaitForTimers(1) // loop has registered its ticker
//	fake.Advance(2 * time.Second)
package clock
