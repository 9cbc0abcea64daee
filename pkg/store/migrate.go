package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// MigrateOptions controls the migration runner.
type MigrateOptions struct {
	// AllowDestructive must be set to apply a migration flagged Destructive.
	AllowDestructive bool
}

// Migrate applies the canonical migration sequence.
func (s *Store) Migrate(ctx context.Context, opts MigrateOptions) error {
	return s.migrate(ctx, Migrations, opts)
}

// migrate applies the given sequence; split out so tests can inject sequences.
func (s *Store) migrate(ctx context.Context, migrations []Migration, opts MigrateOptions) error {
	if err := validateSequence(migrations); err != nil {
		return err
	}
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	if err := s.synthesizeBaseline(ctx, migrations); err != nil {
		return err
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if m.Version != current+1 {
			return errors.Newf(errors.CodeMigrationFailed, "store",
				"migration sequence gap: have version %d, next pending is %d", current, m.Version)
		}
		if m.Destructive && !opts.AllowDestructive {
			return errors.Newf(errors.CodeMigrationFailed, "store",
				"migration %d (%s) is destructive; pass the destructive opt-in to apply it", m.Version, m.Name)
		}
		if err := s.applyOne(ctx, m); err != nil {
			return err
		}
		current = m.Version
		applied++
	}

	if applied > 0 {
		s.logger.Info("Applied schema migrations", "count", applied, "version", current)
	}
	return nil
}

// Rollback reverts migrations above target, newest first, using each
// migration's paired down steps.
func (s *Store) Rollback(ctx context.Context, target int) error {
	return s.rollback(ctx, Migrations, target)
}

func (s *Store) rollback(ctx context.Context, migrations []Migration, target int) error {
	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}
	if target >= current {
		return nil
	}

	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	for v := current; v > target; v-- {
		m, ok := byVersion[v]
		if !ok {
			return errors.Newf(errors.CodeMigrationFailed, "store", "no known migration for recorded version %d", v)
		}
		err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range m.Down {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return errors.Newf(errors.CodeMigrationFailed, "store",
						"rollback of migration %d (%s) failed: %v", m.Version, m.Name, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
				return errors.New(errors.CodeMigrationFailed, "store", "failed to remove migration record", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("Rolled back migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

// SchemaVersion reports the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}
	return s.currentVersion(ctx)
}

func (s *Store) applyOne(ctx context.Context, m Migration) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range m.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Newf(errors.CodeMigrationFailed, "store",
					"migration %d (%s) failed: %v", m.Version, m.Name, err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC())
		if err != nil {
			return errors.New(errors.CodeMigrationFailed, "store", "failed to record migration", err)
		}
		return nil
	})
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return errors.New(errors.CodeMigrationFailed, "store", "failed to create schema_migrations table", err)
	}
	return nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.GetContext(ctx, &version, `SELECT MAX(version) FROM schema_migrations`); err != nil {
		return 0, errors.New(errors.CodeMigrationFailed, "store", "failed to read schema version", err)
	}
	return int(version.Int64), nil
}

// synthesizeBaseline handles databases migrated under the legacy naming: when
// versions 1-8 are recorded under the old names, they are collapsed into a
// single baseline record at version 1 so the new sequence lines up.
func (s *Store) synthesizeBaseline(ctx context.Context, migrations []Migration) error {
	rows := []struct {
		Version int    `db:"version"`
		Name    string `db:"name"`
	}{}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT version, name FROM schema_migrations WHERE version BETWEEN 1 AND ? ORDER BY version`,
		len(legacyMigrationNames)); err != nil {
		return errors.New(errors.CodeMigrationFailed, "store", "failed to inspect migration history", err)
	}
	if len(rows) != len(legacyMigrationNames) {
		return nil
	}
	for i, r := range rows {
		if r.Version != i+1 || r.Name != legacyMigrationNames[i] {
			return nil
		}
	}

	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM schema_migrations WHERE version BETWEEN 1 AND ?`, len(legacyMigrationNames)); err != nil {
			return errors.New(errors.CodeMigrationFailed, "store", "failed to clear legacy migration records", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (1, 'baseline', ?)`,
			time.Now().UTC()); err != nil {
			return errors.New(errors.CodeMigrationFailed, "store", "failed to insert baseline record", err)
		}
		s.logger.Info("Collapsed legacy migration history into baseline")
		return nil
	})
}

// validateSequence rejects sequences that are not ascending and contiguous
// starting at 1.
func validateSequence(migrations []Migration) error {
	if len(migrations) == 0 {
		return nil
	}
	sorted := sort.SliceIsSorted(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	if !sorted {
		return errors.New(errors.CodeMigrationFailed, "store", "migration sequence is not sorted", nil)
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			return errors.New(errors.CodeMigrationFailed, "store",
				fmt.Sprintf("migration sequence is not contiguous: position %d holds version %d", i+1, m.Version), nil)
		}
	}
	return nil
}
