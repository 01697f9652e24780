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

const agentColumns = `id, user_id, name, worker_status, worker_address, gateway_port,
	bucket_id, hatching_status, created_at, updated_at`

// CreateAgent inserts agent, stamping CreatedAt and UpdatedAt. A
// duplicate id returns ErrConflict.
func (s *Store) CreateAgent(ctx context.Context, agent *hatching.Agent) error {
	now := s.now()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				agent.ID, agent.UserID, agent.Name, string(agent.WorkerStatus),
				agent.WorkerAddress, agent.GatewayPort, agent.BucketID,
				string(agent.HatchingStatus), now, now,
			},
		})
	})
	if isConstraintError(err) {
		return fmt.Errorf("agentstore: agent %s: %w", agent.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("agentstore: create agent %s: %w", agent.ID, err)
	}
	agent.CreatedAt = fromUnixNano(now)
	agent.UpdatedAt = agent.CreatedAt
	return nil
}

// GetAgent returns the agent with id, or hatching.ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, id string) (*hatching.Agent, error) {
	var agent *hatching.Agent
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				agent = scanAgent(stmt)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: get agent %s: %w", id, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", id, hatching.ErrNotFound)
	}
	return agent, nil
}

// ListAgents returns the agents owned by userID, oldest first. An
// empty userID lists every agent.
func (s *Store) ListAgents(ctx context.Context, userID string) ([]hatching.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at, id`

	var agents []hatching.Agent
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				agents = append(agents, *scanAgent(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: list agents: %w", err)
	}
	return agents, nil
}

// SetWorker records the worker's lifecycle status and address.
func (s *Store) SetWorker(ctx context.Context, id string, status hatching.WorkerStatus, address string) error {
	return s.updateAgent(ctx, id, `UPDATE agents SET worker_status = ?, worker_address = ?, updated_at = ? WHERE id = ?`,
		string(status), address, s.now(), id)
}

// SetHatchingStatus stores an agent's aggregate status.
func (s *Store) SetHatchingStatus(ctx context.Context, id string, status hatching.HatchingStatus) error {
	return s.updateAgent(ctx, id, `UPDATE agents SET hatching_status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now(), id)
}

func (s *Store) updateAgent(ctx context.Context, id, query string, args ...any) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("agentstore: update agent %s: %w", id, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("agent %s: %w", id, hatching.ErrNotFound)
		}
		return nil
	})
}

// DeleteAgent removes the agent with its config, manifest steps and
// channel credential records. Secrets and bundles are not touched;
// the caller removes those.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, table := range []string{"agent_configs", "manifest_steps", "channel_credentials"} {
			err := sqlitex.Execute(conn, `DELETE FROM `+table+` WHERE agent_id = ?`, &sqlitex.ExecOptions{
				Args: []any{id},
			})
			if err != nil {
				return fmt.Errorf("agentstore: delete %s for %s: %w", table, id, err)
			}
		}
		err := sqlitex.Execute(conn, `DELETE FROM agents WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return fmt.Errorf("agentstore: delete agent %s: %w", id, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("agent %s: %w", id, hatching.ErrNotFound)
		}
		return nil
	})
}

func scanAgent(stmt *sqlite.Stmt) *hatching.Agent {
	return &hatching.Agent{
		ID:             stmt.ColumnText(0),
		UserID:         stmt.ColumnText(1),
		Name:           stmt.ColumnText(2),
		WorkerStatus:   hatching.WorkerStatus(stmt.ColumnText(3)),
		WorkerAddress:  stmt.ColumnText(4),
		GatewayPort:    stmt.ColumnInt(5),
		BucketID:       stmt.ColumnText(6),
		HatchingStatus: hatching.HatchingStatus(stmt.ColumnText(7)),
		CreatedAt:      fromUnixNano(stmt.ColumnInt64(8)),
		UpdatedAt:      fromUnixNano(stmt.ColumnInt64(9)),
	}
}
