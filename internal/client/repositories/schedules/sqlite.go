package schedules

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

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert inserts s or updates the existing row with the same ID. It reports
// whether a new row was created. CreatedAt of an existing row is preserved.
func (r *SQLiteRepository) Upsert(ctx context.Context, s *models.Schedule) (bool, error) {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules WHERE id = ?`, s.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schedule %s: %w", s.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO schedules (id, title, start_date, technician_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_date = excluded.start_date,
			technician_id = excluded.technician_id,
			updated_at = excluded.updated_at
	`, s.ID, s.Title, s.StartDate, s.TechnicianID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert schedule %s: %w", s.ID, err)
	}
	return exists == 0, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Schedule, error) {
	var s models.Schedule
	err := r.db.QueryRowContext(ctx, `SELECT id, title, start_date, technician_id, created_at, updated_at
		FROM schedules WHERE id = ?`, id).
		Scan(&s.ID, &s.Title, &s.StartDate, &s.TechnicianID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return &s, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, start_date, technician_id, created_at, updated_at
		FROM schedules ORDER BY start_date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var result []*models.Schedule
	for rows.Next() {
		var s models.Schedule
		if err := rows.Scan(&s.ID, &s.Title, &s.StartDate, &s.TechnicianID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	if err := dbx.RequireOneRow(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schedule %s: %w", id, common.ErrNotFound)
		}
		return err
	}
	return nil
}
