// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest owns the lifecycle of an agent's hatching
// manifest: the ordered checklist of setup steps and the aggregate
// hatching status derived from them.
//
// Each step moves through a small state machine:
//
//	pending, failed      --start-->    in_progress
//	pending, in_progress --complete--> completed
//	pending, in_progress --fail-->     failed
//	in_progress          --reset-->    pending
//
// Skipped is assignable only when a manifest is created. Completed and
// skipped steps are terminal.
//
// Every transition recomputes the aggregate status and persists it
// with the step in one transaction, under a per-agent lock, so the
// stored aggregate never disagrees with the stored steps. The
// aggregate follows a strict priority: failed if any step failed,
// completed if every step is completed or skipped, in_progress if any
// step is in progress, pending otherwise.
package manifest
