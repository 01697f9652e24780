// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/codec"
	"github.com/bureau-foundation/hatchery/lib/sqlitepool"
)

// ErrConflict is returned when an insert collides with an existing
// row: a duplicate agent id, a second step of the same type for one
// agent, or a template name already in use.
var ErrConflict = errors.New("agentstore: already exists")

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	worker_status   TEXT NOT NULL,
	worker_address  TEXT NOT NULL DEFAULT '',
	gateway_port    INTEGER NOT NULL,
	bucket_id       TEXT NOT NULL,
	hatching_status TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS agents_user ON agents (user_id);

CREATE TABLE IF NOT EXISTS agent_configs (
	agent_id               TEXT PRIMARY KEY,
	template               BLOB NOT NULL,
	gateway_port           INTEGER NOT NULL,
	gateway_auth_token_ref TEXT NOT NULL,
	workspace_path         TEXT NOT NULL,
	enabled_channels       BLOB NOT NULL,
	env_var_refs           BLOB NOT NULL,
	model_primary          TEXT NOT NULL,
	allow_from             BLOB NOT NULL,
	updated_at             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS manifest_steps (
	id            TEXT PRIMARY KEY,
	agent_id      TEXT NOT NULL,
	step_type     TEXT NOT NULL,
	status        TEXT NOT NULL,
	step_order    INTEGER NOT NULL,
	config        BLOB NOT NULL,
	result        BLOB,
	error_message TEXT NOT NULL DEFAULT '',
	completed_at  INTEGER,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS manifest_steps_agent_type
	ON manifest_steps (agent_id, step_type);

CREATE TABLE IF NOT EXISTS channel_credentials (
	agent_id               TEXT NOT NULL,
	channel_type           TEXT NOT NULL,
	account_id             TEXT NOT NULL DEFAULT '',
	credentials_secret_ref TEXT NOT NULL DEFAULT '',
	is_paired              INTEGER NOT NULL DEFAULT 0,
	last_connected_at      INTEGER,
	PRIMARY KEY (agent_id, channel_type)
);

CREATE TABLE IF NOT EXISTS credentials (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	purpose     TEXT NOT NULL,
	secret_ref  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS credentials_owner ON credentials (owner);

CREATE TABLE IF NOT EXISTS templates (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	snapshot   BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store is the SQLite-backed agent state store. It is safe for
// concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	// Clock stamps created_at and updated_at. Required.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Open opens (creating if needed) the store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("agentstore: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("agentstore: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		Schema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("agentstore: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixNano()
}

// isConstraintError reports whether err is a UNIQUE or PRIMARY KEY
// violation.
func isConstraintError(err error) bool {
	return sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint
}

func fromUnixNano(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// nullableTime reads an INTEGER column that may be NULL.
func nullableTime(stmt *sqlite.Stmt, column int) *time.Time {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return nil
	}
	value := fromUnixNano(stmt.ColumnInt64(column))
	return &value
}

func timeArg(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UnixNano()
}

// columnBlob copies a BLOB column. NULL and empty both return nil.
func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	length := stmt.ColumnLen(column)
	if length == 0 {
		return nil
	}
	buffer := make([]byte, length)
	stmt.ColumnBytes(column, buffer)
	return buffer
}

// encodeMap encodes a map column. A nil map is stored as NULL.
func encodeMap[V any](value map[string]V) (any, error) {
	if value == nil {
		return nil, nil
	}
	return codec.Marshal(value)
}

// decodeColumn decodes a CBOR column into target, leaving it
// untouched when the column is NULL or empty.
func decodeColumn(stmt *sqlite.Stmt, column int, target any) error {
	data := columnBlob(stmt, column)
	if data == nil {
		return nil
	}
	return codec.Unmarshal(data, target)
}
