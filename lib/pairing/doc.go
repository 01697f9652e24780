// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing drives the interactive manifest steps: pairing a
// messaging channel between an operator and an agent's running worker.
//
// A pairing attempt has three parts. [Coordinator.Start] checks the
// worker is running and the channel step is not yet completed, moves
// the step to in_progress and asks the worker to begin pairing.
// [Coordinator.Watch] then polls the worker every [PollInterval] and
// streams [Event] values to one observer: a code event when the
// pairing code changes, a ping every poll, and finally a paired event
// once the worker reports success, after the step has been completed
// and the channel credential marked paired. [Coordinator.Cancel]
// stops the poll and returns the step to pending.
//
// At most one watch runs per agent and channel; a second is rejected
// with [ErrSessionActive]. Worker errors during polling are logged
// and retried on the next poll; they never fail the step.
package pairing
