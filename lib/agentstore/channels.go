// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

// EnsureChannelCredential creates an unpaired record for the channel
// if none exists. An existing record keeps its pairing state and only
// has its secret ref updated.
func (s *Store) EnsureChannelCredential(ctx context.Context, agentID string, channel hatching.ChannelType, secretRef string) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO channel_credentials (agent_id, channel_type, credentials_secret_ref)
			VALUES (?, ?, ?)
			ON CONFLICT (agent_id, channel_type) DO UPDATE SET credentials_secret_ref = excluded.credentials_secret_ref`,
			&sqlitex.ExecOptions{Args: []any{agentID, string(channel), secretRef}})
	})
	if err != nil {
		return fmt.Errorf("agentstore: ensure %s credential for %s: %w", channel, agentID, err)
	}
	return nil
}

// GetChannelCredential returns the record for one channel, or
// hatching.ErrNotFound.
func (s *Store) GetChannelCredential(ctx context.Context, agentID string, channel hatching.ChannelType) (*hatching.ChannelCredential, error) {
	credentials, err := s.queryChannelCredentials(ctx, `WHERE agent_id = ? AND channel_type = ?`, agentID, string(channel))
	if err != nil {
		return nil, err
	}
	if len(credentials) == 0 {
		return nil, fmt.Errorf("%s credential for agent %s: %w", channel, agentID, hatching.ErrNotFound)
	}
	return &credentials[0], nil
}

// ListChannelCredentials returns every channel record of agentID,
// ordered by channel.
func (s *Store) ListChannelCredentials(ctx context.Context, agentID string) ([]hatching.ChannelCredential, error) {
	return s.queryChannelCredentials(ctx, `WHERE agent_id = ? ORDER BY channel_type`, agentID)
}

// MarkChannelPaired records a successful pairing.
func (s *Store) MarkChannelPaired(ctx context.Context, agentID string, channel hatching.ChannelType, accountID string, at time.Time) error {
	return s.updateChannel(ctx, agentID, channel,
		`UPDATE channel_credentials SET is_paired = 1, account_id = ?, last_connected_at = ?
			WHERE agent_id = ? AND channel_type = ?`,
		accountID, at.UnixNano(), agentID, string(channel))
}

// MarkChannelDisconnected clears the paired flag. The account id and
// last connection time are kept.
func (s *Store) MarkChannelDisconnected(ctx context.Context, agentID string, channel hatching.ChannelType) error {
	return s.updateChannel(ctx, agentID, channel,
		`UPDATE channel_credentials SET is_paired = 0 WHERE agent_id = ? AND channel_type = ?`,
		agentID, string(channel))
}

func (s *Store) updateChannel(ctx context.Context, agentID string, channel hatching.ChannelType, query string, args ...any) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("agentstore: update %s credential for %s: %w", channel, agentID, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%s credential for agent %s: %w", channel, agentID, hatching.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) queryChannelCredentials(ctx context.Context, where string, args ...any) ([]hatching.ChannelCredential, error) {
	var credentials []hatching.ChannelCredential
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT agent_id, channel_type, account_id,
				credentials_secret_ref, is_paired, last_connected_at
			FROM channel_credentials `+where, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				credentials = append(credentials, hatching.ChannelCredential{
					AgentID:              stmt.ColumnText(0),
					ChannelType:          hatching.ChannelType(stmt.ColumnText(1)),
					AccountID:            stmt.ColumnText(2),
					CredentialsSecretRef: stmt.ColumnText(3),
					IsPaired:             stmt.ColumnBool(4),
					LastConnectedAt:      nullableTime(stmt, 5),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: query channel credentials: %w", err)
	}
	return credentials, nil
}
