package bundles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load returns the bundle of the schedule, or an empty one if nothing is
// stored yet. Payloads written by older releases are normalized on read.
func (r *SQLiteRepository) Load(ctx context.Context, scheduleID string) (*models.PhotoBundle, error) {
	var payload, pending string
	err := r.db.QueryRowContext(ctx, `SELECT payload, pending_intents FROM photo_bundles WHERE schedule_id = ?`,
		scheduleID).Scan(&payload, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.PhotoBundle{ScheduleID: scheduleID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load photo bundle %s: %w", scheduleID, err)
	}

	photos, err := models.DecodePhotoBundle([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("photo bundle %s: %w", scheduleID, err)
	}
	b := &models.PhotoBundle{ScheduleID: scheduleID, Photos: photos}
	if pending != "" {
		if err := json.Unmarshal([]byte(pending), &b.Pending); err != nil {
			return nil, fmt.Errorf("pending intents of %s: %w: %w", scheduleID, models.ErrCorruptBundle, err)
		}
	}
	return b, nil
}

// Save writes the bundle in the current schema version.
func (r *SQLiteRepository) Save(ctx context.Context, b *models.PhotoBundle) error {
	payload, err := models.EncodePhotoBundle(b.Photos)
	if err != nil {
		return fmt.Errorf("failed to encode photo bundle: %w", err)
	}
	intents := b.Pending
	if intents == nil {
		intents = []models.PhotoIntent{}
	}
	pending, err := json.Marshal(intents)
	if err != nil {
		return fmt.Errorf("failed to encode pending intents: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO photo_bundles (schedule_id, payload, pending_intents) VALUES (?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			payload = excluded.payload,
			pending_intents = excluded.pending_intents
	`, b.ScheduleID, string(payload), string(pending))
	if err != nil {
		return fmt.Errorf("failed to save photo bundle %s: %w", b.ScheduleID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, scheduleID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM photo_bundles WHERE schedule_id = ?`, scheduleID); err != nil {
		return fmt.Errorf("failed to delete photo bundle %s: %w", scheduleID, err)
	}
	return nil
}

// Quarantine moves the stored row of the schedule aside so the next Load
// starts from an empty bundle. The raw payload is kept for inspection.
func (r *SQLiteRepository) Quarantine(ctx context.Context, scheduleID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO photo_bundles_quarantine (schedule_id, payload, pending_intents, quarantined_at)
		SELECT schedule_id, payload, pending_intents, ? FROM photo_bundles WHERE schedule_id = ?
	`, time.Now().UTC(), scheduleID)
	if err != nil {
		return fmt.Errorf("failed to quarantine photo bundle %s: %w", scheduleID, err)
	}
	return r.Delete(ctx, scheduleID)
}
