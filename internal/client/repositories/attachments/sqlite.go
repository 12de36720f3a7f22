package attachments

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

const columns = `id, filename, local_path, media_type, size, state, schedule_id, photo_type,
	technician_id, job_title, start_date, signer_name, attempts, last_error, created_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.AttachmentRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO attachments (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Filename, a.LocalPath, a.MediaType, nullInt(a.Size), string(a.State), a.ScheduleID,
		string(a.PhotoType), a.TechnicianID, a.JobTitle, a.StartDate, nullString(a.SignerName),
		a.Attempts, nullString(a.LastError), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.AttachmentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM attachments WHERE id = ?`, id)
	a, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", id, err)
	}
	return a, nil
}

// ListPending returns up to limit queued rows in insertion order. When
// parkAfter > 0, rows with at least that many failed attempts sort last.
func (r *SQLiteRepository) ListPending(ctx context.Context, limit, parkAfter int) ([]*models.AttachmentRecord, error) {
	query := `SELECT ` + columns + ` FROM attachments
		WHERE state IN (?, ?)
		ORDER BY CASE WHEN ? > 0 AND attempts >= ? THEN 1 ELSE 0 END, seq
		LIMIT ?`
	return r.list(ctx, query, string(models.StateQueuedUpload), string(models.StateQueuedSync), parkAfter, parkAfter, limit)
}

func (r *SQLiteRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]*models.AttachmentRecord, error) {
	query := `SELECT ` + columns + ` FROM attachments WHERE schedule_id = ? ORDER BY seq`
	return r.list(ctx, query, scheduleID)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*models.AttachmentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.AttachmentRecord
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachment rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE state IN (?, ?)`,
		string(models.StateQueuedUpload), string(models.StateQueuedSync)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending attachments: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountByState(ctx context.Context) (map[models.AttachmentState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM attachments GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count attachments: %w", err)
	}
	defer rows.Close()

	result := make(map[models.AttachmentState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan attachment count: %w", err)
		}
		result[models.AttachmentState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachment counts: %w", err)
	}
	return result, nil
}

// MarkSynced moves the row to SYNCED. Marking a SYNCED row again is a no-op.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET state = ?, last_error = NULL WHERE id = ?`,
		string(models.StateSynced), id)
	if err != nil {
		return fmt.Errorf("failed to mark attachment %s synced: %w", id, err)
	}
	return oneRow(res, id)
}

// RecordFailure bumps the attempt counter of a still-pending row.
func (r *SQLiteRepository) RecordFailure(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET attempts = attempts + 1, last_error = ?
		WHERE id = ? AND state IN (?, ?)`,
		nullString(reason), id, string(models.StateQueuedUpload), string(models.StateQueuedSync))
	if err != nil {
		return fmt.Errorf("failed to record failure for attachment %s: %w", id, err)
	}
	return oneRow(res, id)
}

// Park records a failure that retrying will not fix. The attempt counter is
// raised to at least attempts so the row sorts behind retryable ones.
func (r *SQLiteRepository) Park(ctx context.Context, id string, reason string, attempts int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET attempts = MAX(attempts + 1, ?), last_error = ?
		WHERE id = ? AND state IN (?, ?)`,
		attempts, nullString(reason), id, string(models.StateQueuedUpload), string(models.StateQueuedSync))
	if err != nil {
		return fmt.Errorf("failed to park attachment %s: %w", id, err)
	}
	return oneRow(res, id)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attachment %s: %w", id, err)
	}
	return oneRow(res, id)
}

func oneRow(res sql.Result, id string) error {
	err := dbx.RequireOneRow(res)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attachment %s: %w", id, common.ErrNotFound)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.AttachmentRecord, error) {
	var (
		a                     models.AttachmentRecord
		size                  sql.NullInt64
		state, photoType      string
		signerName, lastError sql.NullString
	)
	err := s.Scan(&a.ID, &a.Filename, &a.LocalPath, &a.MediaType, &size, &state, &a.ScheduleID, &photoType,
		&a.TechnicianID, &a.JobTitle, &a.StartDate, &signerName, &a.Attempts, &lastError, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if size.Valid {
		v := size.Int64
		a.Size = &v
	}
	a.State = models.AttachmentState(state)
	a.PhotoType = models.PhotoType(photoType)
	a.SignerName = signerName.String
	a.LastError = lastError.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
