// Package storage opens the local SQLite store and brings its schema up to
// date with the embedded goose migrations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/fieldsync/internal/client/migrations"
)

// ErrConnectTimeout is returned when the store could not be opened and
// migrated within the configured timeout.
var ErrConnectTimeout = errors.New("local store connect timeout")

// runMigrations is a test seam.
var runMigrations = RunMigrations

// RunMigrations applies all pending migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// DSN builds the modernc.org/sqlite connection string for path with WAL and
// a busy timeout so concurrent readers do not fail on a held write lock.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path and migrates it. The whole operation is
// bounded by timeout; exceeding it fails with ErrConnectTimeout.
func Open(ctx context.Context, path string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if err := prepare(ctx, db, timeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err == nil {
		err = runMigrations(ctx, db)
	}
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrConnectTimeout, timeout, err)
	}
	return fmt.Errorf("prepare local store: %w", err)
}
