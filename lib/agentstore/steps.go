// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

const stepColumns = `id, agent_id, step_type, status, step_order, config, result,
	error_message, completed_at, created_at, updated_at`

// InsertSteps adds steps to agentID's manifest and stores the
// recomputed aggregate status in the same transaction. A step whose
// type already exists for the agent returns ErrConflict and nothing
// is written.
func (s *Store) InsertSteps(ctx context.Context, agentID string, steps []hatching.ManifestStep, status hatching.HatchingStatus) error {
	now := s.now()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := setHatchingStatus(conn, agentID, status, now); err != nil {
			return err
		}
		return insertSteps(conn, steps, now)
	})
	if isConstraintError(err) {
		return fmt.Errorf("agentstore: steps for %s: %w", agentID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("agentstore: insert steps for %s: %w", agentID, err)
	}
	stampSteps(steps, now)
	return nil
}

// ReplaceSteps deletes agentID's manifest, inserts steps in its place
// and stores status, all in one transaction.
func (s *Store) ReplaceSteps(ctx context.Context, agentID string, steps []hatching.ManifestStep, status hatching.HatchingStatus) error {
	now := s.now()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := setHatchingStatus(conn, agentID, status, now); err != nil {
			return err
		}
		err := sqlitex.Execute(conn, `DELETE FROM manifest_steps WHERE agent_id = ?`, &sqlitex.ExecOptions{
			Args: []any{agentID},
		})
		if err != nil {
			return err
		}
		return insertSteps(conn, steps, now)
	})
	if isConstraintError(err) {
		return fmt.Errorf("agentstore: steps for %s: %w", agentID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("agentstore: replace steps for %s: %w", agentID, err)
	}
	stampSteps(steps, now)
	return nil
}

// SaveStep writes step's mutable fields (status, result, error
// message, completion time) and agentID's aggregate status in one
// transaction.
func (s *Store) SaveStep(ctx context.Context, step *hatching.ManifestStep, status hatching.HatchingStatus) error {
	result, err := encodeMap(step.Result)
	if err != nil {
		return fmt.Errorf("agentstore: encoding result for step %s: %w", step.ID, err)
	}

	now := s.now()
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE manifest_steps
			SET status = ?, result = ?, error_message = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND agent_id = ?`, &sqlitex.ExecOptions{
			Args: []any{
				string(step.Status), result, step.ErrorMessage, timeArg(step.CompletedAt), now,
				step.ID, step.AgentID,
			},
		})
		if err != nil {
			return fmt.Errorf("agentstore: save step %s: %w", step.ID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("step %s: %w", step.ID, hatching.ErrNotFound)
		}
		return setHatchingStatus(conn, step.AgentID, status, now)
	})
	if err != nil {
		return err
	}
	step.UpdatedAt = fromUnixNano(now)
	return nil
}

// ListSteps returns agentID's manifest in step order. An agent with
// no manifest yields an empty slice.
func (s *Store) ListSteps(ctx context.Context, agentID string) ([]hatching.ManifestStep, error) {
	var steps []hatching.ManifestStep
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+stepColumns+` FROM manifest_steps
			WHERE agent_id = ? ORDER BY step_order, step_type`, &sqlitex.ExecOptions{
			Args: []any{agentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				step, err := scanStep(stmt)
				if err != nil {
					return err
				}
				steps = append(steps, *step)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: list steps for %s: %w", agentID, err)
	}
	return steps, nil
}

func setHatchingStatus(conn *sqlite.Conn, agentID string, status hatching.HatchingStatus, now int64) error {
	err := sqlitex.Execute(conn, `UPDATE agents SET hatching_status = ?, updated_at = ? WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{string(status), now, agentID},
	})
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("agent %s: %w", agentID, hatching.ErrNotFound)
	}
	return nil
}

func insertSteps(conn *sqlite.Conn, steps []hatching.ManifestStep, now int64) error {
	for i := range steps {
		step := &steps[i]
		config := step.Config
		if config == nil {
			config = map[string]any{}
		}
		configBytes, err := encodeMap(config)
		if err != nil {
			return fmt.Errorf("encoding config for %s: %w", step.Type, err)
		}
		result, err := encodeMap(step.Result)
		if err != nil {
			return fmt.Errorf("encoding result for %s: %w", step.Type, err)
		}
		err = sqlitex.Execute(conn, `INSERT INTO manifest_steps (`+stepColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				step.ID, step.AgentID, string(step.Type), string(step.Status), step.Order,
				configBytes, result, step.ErrorMessage, timeArg(step.CompletedAt), now, now,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func stampSteps(steps []hatching.ManifestStep, now int64) {
	for i := range steps {
		steps[i].CreatedAt = fromUnixNano(now)
		steps[i].UpdatedAt = steps[i].CreatedAt
	}
}

func scanStep(stmt *sqlite.Stmt) (*hatching.ManifestStep, error) {
	step := &hatching.ManifestStep{
		ID:           stmt.ColumnText(0),
		AgentID:      stmt.ColumnText(1),
		Type:         hatching.StepType(stmt.ColumnText(2)),
		Status:       hatching.StepStatus(stmt.ColumnText(3)),
		Order:        stmt.ColumnInt(4),
		ErrorMessage: stmt.ColumnText(7),
		CompletedAt:  nullableTime(stmt, 8),
		CreatedAt:    fromUnixNano(stmt.ColumnInt64(9)),
		UpdatedAt:    fromUnixNano(stmt.ColumnInt64(10)),
	}
	if err := decodeColumn(stmt, 5, &step.Config); err != nil {
		return nil, fmt.Errorf("decoding config of step %s: %w", step.ID, err)
	}
	if err := decodeColumn(stmt, 6, &step.Result); err != nil {
		return nil, fmt.Errorf("decoding result of step %s: %w", step.ID, err)
	}
	return step, nil
}
