package photos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *SQLiteRepository) Insert(ctx context.Context, p *models.Photo) error {
	query := `INSERT INTO photos (id, schedule_id, type, technician_id, timestamp, signer_name, remote_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.ScheduleID, string(p.Type), p.TechnicianID,
		p.Timestamp.UTC(), nullString(p.SignerName), nullString(p.RemoteURL))
	if err != nil {
		return fmt.Errorf("failed to insert photo: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, schedule_id, type, technician_id, timestamp, signer_name, remote_url
		FROM photos WHERE id = ?`, id)
	p, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo %s: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]*models.Photo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, schedule_id, type, technician_id, timestamp, signer_name, remote_url
		FROM photos WHERE schedule_id = ? ORDER BY timestamp, id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	var result []*models.Photo
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo rows: %w", err)
	}
	return result, nil
}

// SetRemoteURL stores url only if the photo has none yet. It reports whether
// the row was updated; a photo that already has a URL keeps it.
func (r *SQLiteRepository) SetRemoteURL(ctx context.Context, id, url string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE photos SET remote_url = ? WHERE id = ? AND remote_url IS NULL`, url, id)
	if err != nil {
		return false, fmt.Errorf("failed to set remote url of photo %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete photo %s: %w", id, err)
	}
	if err := dbx.RequireOneRow(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("photo %s: %w", id, common.ErrNotFound)
		}
		return err
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Photo, error) {
	var (
		p                     models.Photo
		typ                   string
		signerName, remoteURL sql.NullString
	)
	if err := s.Scan(&p.ID, &p.ScheduleID, &typ, &p.TechnicianID, &p.Timestamp, &signerName, &remoteURL); err != nil {
		return nil, err
	}
	p.Type = models.PhotoType(typ)
	p.SignerName = signerName.String
	p.RemoteURL = remoteURL.String
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
