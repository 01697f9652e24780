// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hatchery/lib/codec"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

// SaveTemplate stores snapshot under name. An existing template with
// the same name is replaced only when replace is true; otherwise
// ErrConflict is returned.
func (s *Store) SaveTemplate(ctx context.Context, name, owner string, snapshot *hatching.Snapshot, replace bool) error {
	encoded, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("agentstore: encoding template %s: %w", name, err)
	}

	verb := "INSERT"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, verb+` INTO templates (name, owner, snapshot, created_at) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{name, owner, encoded, s.now()}})
	})
	if isConstraintError(err) {
		return fmt.Errorf("agentstore: template %s: %w", name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("agentstore: save template %s: %w", name, err)
	}
	return nil
}

// GetTemplate returns the snapshot saved under name, or
// hatching.ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, name string) (*hatching.Snapshot, error) {
	var snapshot *hatching.Snapshot
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT snapshot FROM templates WHERE name = ?`, &sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				snapshot = &hatching.Snapshot{}
				return decodeColumn(stmt, 0, snapshot)
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: get template %s: %w", name, err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("template %s: %w", name, hatching.ErrNotFound)
	}
	return snapshot, nil
}
