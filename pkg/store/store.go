// Package store provides the durable SQLite-backed state for the orchestrator.
//
// All persisted rows live here: workflow executions, steps, artifacts,
// telemetry events, knowledge findings, and discovered projects. The store is
// single-writer: the connection pool is capped at one connection so every
// write serializes, and multi-row operations run inside WithTx. The schema is
// owned by a versioned migration sequence (see migrations.go) applied one
// transaction per version.
//
// The knowledge schema uses an FTS5 virtual table, so the binary must be
// built with -tags sqlite_fts5; without it migration 3 fails with
// "no such module: fts5". The Makefile targets set the tag.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// Store wraps the SQLite database handle.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and verifies
// connectivity. Foreign keys are enabled and the journal runs in WAL mode so
// readers do not block the writer.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New(errors.CodeMissingParameter, "store", "database path is required", nil)
	}

	dsn := buildDSN(path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", fmt.Sprintf("failed to open database at %s", path), err)
	}

	// Single writer: every statement goes through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.New(errors.CodeIoError, "store", fmt.Sprintf("failed to connect to database at %s", path), err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

func buildDSN(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// DB exposes the underlying handle for read-only queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction. Any error (or panic) rolls back every
// write; a nil return commits.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to commit transaction", err)
	}
	return nil
}
