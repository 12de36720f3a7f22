package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

const columns = `id, tx_id, op, table_name, row_id, data, applied, created_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append writes e and fills in its ID.
func (r *SQLiteRepository) Append(ctx context.Context, e *models.ChangeEntry) error {
	if e.TxID == "" {
		return fmt.Errorf("failed to append change: empty tx id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var data sql.NullString
	if len(e.Data) > 0 {
		data = sql.NullString{String: string(e.Data), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO crud_entries (tx_id, op, table_name, row_id, data, applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TxID, string(e.Op), e.Table, e.RowID, data, e.Applied, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get change id: %w", err)
	}
	e.ID = id
	return nil
}

// ListUnapplied returns every entry of every batch that still has at least
// one unapplied entry, ordered by ID. Applied entries of such batches are
// included so the caller can see the whole transaction.
func (r *SQLiteRepository) ListUnapplied(ctx context.Context) ([]*models.ChangeEntry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM crud_entries
		WHERE tx_id IN (SELECT tx_id FROM crud_entries WHERE applied = 0)
		ORDER BY id`)
}

func (r *SQLiteRepository) ListBatch(ctx context.Context, txID string) ([]*models.ChangeEntry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM crud_entries WHERE tx_id = ? ORDER BY id`, txID)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.ChangeEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var result []*models.ChangeEntry
	for rows.Next() {
		var (
			e    models.ChangeEntry
			op   string
			data sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TxID, &op, &e.Table, &e.RowID, &data, &e.Applied, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		e.Op = models.ChangeOp(op)
		if data.Valid {
			e.Data = []byte(data.String)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) MarkApplied(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE crud_entries SET applied = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark change %d applied: %w", id, err)
	}
	if err := dbx.RequireOneRow(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("change %d: %w", id, common.ErrNotFound)
		}
		return err
	}
	return nil
}

// DeleteBatch removes a completed batch.
func (r *SQLiteRepository) DeleteBatch(ctx context.Context, txID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM crud_entries WHERE tx_id = ?`, txID); err != nil {
		return fmt.Errorf("failed to delete change batch %s: %w", txID, err)
	}
	return nil
}

// Count returns the number of unapplied entries.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crud_entries WHERE applied = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count changes: %w", err)
	}
	return n, nil
}
