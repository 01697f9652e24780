// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/sealed"
	"github.com/bureau-foundation/hatchery/lib/secret"
	"github.com/bureau-foundation/hatchery/lib/sqlitepool"
)

const sealedSchema = `
CREATE TABLE IF NOT EXISTS secrets (
	owner      TEXT NOT NULL,
	name       TEXT NOT NULL,
	ciphertext BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (owner, name)
);
`

// Sealed stores age-sealed secrets in SQLite.
type Sealed struct {
	pool      *sqlitepool.Pool
	identity  *secret.Buffer
	recipient string
	clock     clock.Clock
	logger    *slog.Logger
}

var _ Store = (*Sealed)(nil)

// SealedConfig holds the parameters for OpenSealed.
type SealedConfig struct {
	// Path is the database file.
	Path string

	// Identity is the store's age identity. It is borrowed; the
	// caller closes it after closing the store.
	Identity *secret.Buffer

	Clock  clock.Clock
	Logger *slog.Logger
}

// OpenSealed opens the sealed secret store at cfg.Path.
func OpenSealed(cfg SealedConfig) (*Sealed, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("secretstore: Identity is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("secretstore: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("secretstore: Logger is required")
	}

	recipient, err := sealed.RecipientOf(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("secretstore: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: 4,
		Logger:   cfg.Logger,
		Schema:   sealedSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("secretstore: %w", err)
	}

	return &Sealed{
		pool:      pool,
		identity:  cfg.Identity,
		recipient: recipient,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}, nil
}

// Close closes the database. The identity is left to the caller.
func (s *Sealed) Close() error {
	return s.pool.Close()
}

// Recipient returns the age recipient secrets are sealed to.
func (s *Sealed) Recipient() string {
	return s.recipient
}

// Put implements Store.
func (s *Sealed) Put(ctx context.Context, owner, name string, value []byte) (string, error) {
	if err := validate(owner, name); err != nil {
		return "", err
	}
	if len(value) == 0 {
		return "", fmt.Errorf("secretstore: empty value for %s/%s", owner, name)
	}

	ciphertext, err := sealed.Seal(value, s.recipient)
	if err != nil {
		return "", fmt.Errorf("secretstore: sealing %s/%s: %w", owner, name, err)
	}

	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT OR REPLACE INTO secrets (owner, name, ciphertext, updated_at)
			VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{owner, name, ciphertext, s.clock.Now().UnixNano()},
		})
	})
	if err != nil {
		return "", fmt.Errorf("secretstore: storing %s/%s: %w", owner, name, err)
	}

	s.logger.Debug("secret stored", "owner", owner, "name", name)
	return Ref(owner, name), nil
}

// Get implements Store.
func (s *Sealed) Get(ctx context.Context, ref string) (*secret.Buffer, error) {
	owner, name, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var ciphertext []byte
	err = s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT ciphertext FROM secrets WHERE owner = ? AND name = ?`, &sqlitex.ExecOptions{
			Args: []any{owner, name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ciphertext = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, ciphertext)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("secretstore: reading %s: %w", ref, err)
	}
	if ciphertext == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	value, err := sealed.Open(ciphertext, s.identity)
	if err != nil {
		return nil, fmt.Errorf("secretstore: opening %s: %w", ref, err)
	}
	if value == nil {
		return nil, fmt.Errorf("secretstore: %s has an empty value", ref)
	}
	return value, nil
}

// Delete implements Store.
func (s *Sealed) Delete(ctx context.Context, ref string) error {
	owner, name, err := ParseRef(ref)
	if err != nil {
		return err
	}
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `DELETE FROM secrets WHERE owner = ? AND name = ?`, &sqlitex.ExecOptions{
			Args: []any{owner, name},
		})
		if err != nil {
			return fmt.Errorf("secretstore: deleting %s: %w", ref, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil
	})
}
