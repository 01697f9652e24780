// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool shared by
// hatchery's agent store and sealed secret store.
//
// It wraps zombiezen.com/go/sqlite with fixed defaults: WAL journal
// mode, NORMAL synchronous, a five second busy timeout, and foreign
// keys disabled. Stores that delete an agent remove its dependent
// rows explicitly inside the same transaction instead of relying on
// FK cascades.
//
// Callers [Pool.Take] a connection, do their work, and [Pool.Put] it
// back. Connections are not safe for concurrent use. [Pool.Write]
// wraps the common case of a single IMMEDIATE transaction on a
// borrowed connection, which is how every state transition that must
// be atomic (a step status change plus the recomputed aggregate) is
// persisted.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/hatchery/state.db",
//	    Schema: schema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "UPDATE ...", &sqlitex.ExecOptions{...})
//	})
package sqlitepool
