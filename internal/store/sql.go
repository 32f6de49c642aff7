// Package store provides SQL-backed module persistence for the server.
// SQLite (modernc.org/sqlite) is the default backend; PostgreSQL is
// supported through lib/pq.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements metastore.ModuleStore on database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database and applies pending migrations. For SQLite
// dsn is a file path.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		dir := filepath.Dir(dsn)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q (want %s or %s)", driver, DriverSQLite, DriverPostgres)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; read-then-write transactions would otherwise
		// fail with SQLITE_BUSY instead of waiting.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.RunMigrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection for advanced queries
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatTimestamp and parseTimestamp keep timestamps as RFC 3339 text so
// both backends share one column type.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp parses a stored timestamp in the formats either backend
// may hand back.
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
