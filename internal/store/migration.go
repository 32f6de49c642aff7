package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS modules (
				id TEXT PRIMARY KEY,
				course_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_modules_course ON modules(course_id, position)`,
		},
	},
	{
		// Child resource counts shown next to each module.
		version: 2,
		statements: []string{
			`ALTER TABLE modules ADD COLUMN lesson_count INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE modules ADD COLUMN quiz_count INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE modules ADD COLUMN assignment_count INTEGER NOT NULL DEFAULT 0`,
		},
	},
}

// currentSchemaVersion is the version a fully migrated database reports.
var currentSchemaVersion = migrations[len(migrations)-1].version

// RunMigrations applies any pending database migrations
func (s *SQLStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS modsync_schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a new database.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM modsync_schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) apply(ctx context.Context, m migration) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO modsync_schema_version (version) VALUES (?)"), m.version)
		return err
	})
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
