// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentstore persists hatchery's agent state in SQLite: agents,
// their generated configs, manifest steps, channel credential records,
// registered credentials and saved manifest templates.
//
// Map-valued columns (config templates, step config and result,
// template snapshots) are stored as deterministic CBOR via lib/codec.
// Integers in those maps therefore come back as int64 or uint64
// regardless of the Go type they were written with.
//
// Foreign keys are off (see lib/sqlitepool). [Store.DeleteAgent]
// removes dependent rows itself inside one transaction.
//
// Every method that changes a step together with the agent's
// aggregate status does so in one IMMEDIATE transaction. Callers that
// need read-modify-write atomicity across several calls (the manifest
// service) serialize per agent above this layer.
package agentstore
