// Package postgres provides a PostgreSQL-backed ledger.Store using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// Schema is the DDL for the ledger tables. Applied by the service at
// startup when the tables do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id               TEXT PRIMARY KEY,
	wallet           TEXT NOT NULL,
	kind             TEXT NOT NULL,
	token            TEXT NOT NULL DEFAULT '',
	quantity         DOUBLE PRECISION NOT NULL,
	amount_usd       DOUBLE PRECISION NOT NULL,
	source_reference TEXT NOT NULL UNIQUE,
	cause            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	seq              BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON ledger_entries (wallet, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_cause ON ledger_entries (cause) WHERE cause <> '';

CREATE TABLE IF NOT EXISTS wallet_balances (
	wallet   TEXT NOT NULL,
	token    TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (wallet, token)
);
`

// Migrate applies the ledger schema.
func Migrate(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}
