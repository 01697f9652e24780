// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

// CreateCredential registers a credential. The secret value must
// already be in the secret store under credential.SecretRef.
func (s *Store) CreateCredential(ctx context.Context, credential *hatching.Credential) error {
	now := s.now()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO credentials
				(id, owner, name, description, purpose, secret_ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				credential.ID, credential.Owner, credential.Name, credential.Description,
				string(credential.Purpose), credential.SecretRef, now,
			},
		})
	})
	if isConstraintError(err) {
		return fmt.Errorf("agentstore: credential %s: %w", credential.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("agentstore: create credential %s: %w", credential.ID, err)
	}
	credential.CreatedAt = fromUnixNano(now)
	return nil
}

// GetCredentials returns the credentials with the given ids that
// belong to owner, in the order the ids were given. Unknown ids and
// ids owned by someone else are omitted.
func (s *Store) GetCredentials(ctx context.Context, owner string, ids []string) ([]hatching.Credential, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, owner)
	for _, id := range ids {
		args = append(args, id)
	}

	byID := make(map[string]hatching.Credential, len(ids))
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, owner, name, description, purpose, secret_ref, created_at
			FROM credentials WHERE owner = ? AND id IN (`+placeholders+`)`, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				credential := scanCredential(stmt)
				byID[credential.ID] = credential
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: get credentials: %w", err)
	}

	credentials := make([]hatching.Credential, 0, len(byID))
	for _, id := range ids {
		if credential, ok := byID[id]; ok {
			credentials = append(credentials, credential)
			delete(byID, id)
		}
	}
	return credentials, nil
}

// ListCredentials returns owner's credentials, oldest first.
func (s *Store) ListCredentials(ctx context.Context, owner string) ([]hatching.Credential, error) {
	var credentials []hatching.Credential
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, owner, name, description, purpose, secret_ref, created_at
			FROM credentials WHERE owner = ? ORDER BY created_at, id`, &sqlitex.ExecOptions{
			Args: []any{owner},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				credentials = append(credentials, scanCredential(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: list credentials: %w", err)
	}
	return credentials, nil
}

func scanCredential(stmt *sqlite.Stmt) hatching.Credential {
	return hatching.Credential{
		ID:          stmt.ColumnText(0),
		Owner:       stmt.ColumnText(1),
		Name:        stmt.ColumnText(2),
		Description: stmt.ColumnText(3),
		Purpose:     hatching.CredentialPurpose(stmt.ColumnText(4)),
		SecretRef:   stmt.ColumnText(5),
		CreatedAt:   fromUnixNano(stmt.ColumnInt64(6)),
	}
}
