package oplog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// InsertAdd records a successful upload. An empty ID is replaced with a new UUID.
func (r *SQLiteRepository) InsertAdd(ctx context.Context, op *models.AddPhotoOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO add_photo_operations
		(id, schedule_id, photo_id, timestamp, technician_id, type, remote_url, attachment_id, signer_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.ScheduleID, op.PhotoID, op.Timestamp.UTC(), op.TechnicianID, string(op.Type),
		op.RemoteURL, op.AttachmentID, sql.NullString{String: op.SignerName, Valid: op.SignerName != ""})
	if err != nil {
		return fmt.Errorf("failed to insert add operation: %w", err)
	}
	return nil
}

// InsertDelete records a local photo removal. An empty ID is replaced with a new UUID.
func (r *SQLiteRepository) InsertDelete(ctx context.Context, op *models.DeletePhotoOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO delete_photo_operations
		(id, schedule_id, photo_id, timestamp, technician_id, type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.ScheduleID, op.PhotoID, op.Timestamp.UTC(), op.TechnicianID, string(op.Type))
	if err != nil {
		return fmt.Errorf("failed to insert delete operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListAdds(ctx context.Context, scheduleID string) ([]*models.AddPhotoOperation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, schedule_id, photo_id, timestamp, technician_id, type,
		remote_url, attachment_id, signer_name
		FROM add_photo_operations WHERE schedule_id = ? ORDER BY timestamp, id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list add operations: %w", err)
	}
	defer rows.Close()

	var result []*models.AddPhotoOperation
	for rows.Next() {
		var (
			op         models.AddPhotoOperation
			typ        string
			signerName sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.ScheduleID, &op.PhotoID, &op.Timestamp, &op.TechnicianID, &typ,
			&op.RemoteURL, &op.AttachmentID, &signerName); err != nil {
			return nil, fmt.Errorf("failed to scan add operation: %w", err)
		}
		op.Type = models.PhotoType(typ)
		op.SignerName = signerName.String
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate add operations: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ListDeletes(ctx context.Context, scheduleID string) ([]*models.DeletePhotoOperation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, schedule_id, photo_id, timestamp, technician_id, type
		FROM delete_photo_operations WHERE schedule_id = ? ORDER BY timestamp, id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delete operations: %w", err)
	}
	defer rows.Close()

	var result []*models.DeletePhotoOperation
	for rows.Next() {
		var (
			op  models.DeletePhotoOperation
			typ string
		)
		if err := rows.Scan(&op.ID, &op.ScheduleID, &op.PhotoID, &op.Timestamp, &op.TechnicianID, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan delete operation: %w", err)
		}
		op.Type = models.PhotoType(typ)
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delete operations: %w", err)
	}
	return result, nil
}
