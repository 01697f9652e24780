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

// PutAgentConfig stores config, replacing any previous config for the
// same agent wholesale.
func (s *Store) PutAgentConfig(ctx context.Context, config *hatching.AgentConfig) error {
	template, err := codec.Marshal(config.Template)
	if err != nil {
		return fmt.Errorf("agentstore: encoding template for %s: %w", config.AgentID, err)
	}
	channels, err := codec.Marshal(config.EnabledChannels)
	if err != nil {
		return fmt.Errorf("agentstore: encoding channels for %s: %w", config.AgentID, err)
	}
	envVarRefs, err := codec.Marshal(config.EnvVarRefs)
	if err != nil {
		return fmt.Errorf("agentstore: encoding env refs for %s: %w", config.AgentID, err)
	}
	allowFrom, err := codec.Marshal(config.AllowFrom)
	if err != nil {
		return fmt.Errorf("agentstore: encoding allow_from for %s: %w", config.AgentID, err)
	}

	now := s.now()
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT OR REPLACE INTO agent_configs (
				agent_id, template, gateway_port, gateway_auth_token_ref, workspace_path,
				enabled_channels, env_var_refs, model_primary, allow_from, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				config.AgentID, template, config.GatewayPort, config.GatewayAuthTokenRef,
				config.WorkspacePath, channels, envVarRefs, config.ModelPrimary, allowFrom, now,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("agentstore: put config %s: %w", config.AgentID, err)
	}
	config.UpdatedAt = fromUnixNano(now)
	return nil
}

// GetAgentConfig returns the stored config for agentID, or
// hatching.ErrNotFound.
func (s *Store) GetAgentConfig(ctx context.Context, agentID string) (*hatching.AgentConfig, error) {
	var config *hatching.AgentConfig
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT template, gateway_port, gateway_auth_token_ref,
				workspace_path, enabled_channels, env_var_refs, model_primary, allow_from, updated_at
			FROM agent_configs WHERE agent_id = ?`, &sqlitex.ExecOptions{
			Args: []any{agentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				config = &hatching.AgentConfig{
					AgentID:             agentID,
					GatewayPort:         stmt.ColumnInt(1),
					GatewayAuthTokenRef: stmt.ColumnText(2),
					WorkspacePath:       stmt.ColumnText(3),
					ModelPrimary:        stmt.ColumnText(6),
					UpdatedAt:           fromUnixNano(stmt.ColumnInt64(8)),
				}
				for column, target := range map[int]any{
					0: &config.Template,
					4: &config.EnabledChannels,
					5: &config.EnvVarRefs,
					7: &config.AllowFrom,
				} {
					if err := decodeColumn(stmt, column, target); err != nil {
						return fmt.Errorf("decoding column %d: %w", column, err)
					}
				}
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: get config %s: %w", agentID, err)
	}
	if config == nil {
		return nil, fmt.Errorf("config for agent %s: %w", agentID, hatching.ErrNotFound)
	}
	return config, nil
}
