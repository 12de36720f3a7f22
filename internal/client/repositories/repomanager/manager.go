// Package repomanager bundles the local repositories behind one handle so
// that multi-table writes can share a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/bundles"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/oplog"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/schedules"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type RepositoryManager interface {
	Conn() *sql.DB
	// InTx runs fn with a manager whose repositories write through a single
	// transaction. The transaction commits when fn returns nil.
	InTx(ctx context.Context, fn func(RepositoryManager) error) error
	Metadata() metadata.Repository
	Attachments() attachments.Repository
	Photos() photos.Repository
	Schedules() schedules.Repository
	Operations() oplog.Repository
	Changes() changelog.Repository
	Bundles() bundles.Repository
}

type SQLiteRepositoryManager struct {
	db  *sql.DB
	run dbx.DBTX
}

func NewSQLiteRepositoryManager(db *sql.DB) *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{db: db, run: db}
}

func (m *SQLiteRepositoryManager) Conn() *sql.DB {
	return m.db
}

func (m *SQLiteRepositoryManager) InTx(ctx context.Context, fn func(RepositoryManager) error) error {
	if _, ok := m.run.(*sql.Tx); ok {
		// already inside a transaction
		return fn(m)
	}
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&SQLiteRepositoryManager{db: m.db, run: tx})
	})
}

func (m *SQLiteRepositoryManager) Metadata() metadata.Repository {
	return metadata.NewSQLiteRepository(m.run)
}

func (m *SQLiteRepositoryManager) Attachments() attachments.Repository {
	return attachments.NewSQLiteRepository(m.run)
}

func (m *SQLiteRepositoryManager) Photos() photos.Repository {
	return photos.NewSQLiteRepository(m.run)
}

func (m *SQLiteRepositoryManager) Schedules() schedules.Repository {
	return schedules.NewSQLiteRepository(m.run)
}

func (m *SQLiteRepositoryManager) Operations() oplog.Repository {
	return oplog.NewSQLiteRepository(m.run)
}

func (m *SQLiteRepositoryManager) Changes() changelog.Repository {
	return changelog.NewSQLiteRepository(m.run)
}

func (m *SQLiteRepositoryManager) Bundles() bundles.Repository {
	return bundles.NewSQLiteRepository(m.run)
}
