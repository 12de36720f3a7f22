package attachments

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dmitrijs2005/fieldsync/internal/client/media"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/metrics"
)

// Preparer normalizes a captured file into dst.
type Preparer interface {
	Prepare(ctx context.Context, src string, kind models.PhotoType, dst string) (media.Prepared, error)
}

// Metadata describes the domain context of a captured file.
type Metadata struct {
	ScheduleID   string           `validate:"required"`
	PhotoType    models.PhotoType `validate:"required,oneof=before after signature estimate"`
	TechnicianID string
	JobTitle     string
	StartDate    string
	SignerName   string
	Timestamp    time.Time
}

// Item is one file of an EnqueueBatch call.
type Item struct {
	SourcePath string
	Metadata   Metadata
}

type Queue struct {
	repos           repomanager.RepositoryManager
	preparer        Preparer
	dir             string
	maxItemAttempts int
	validate        *validator.Validate
	log             logging.Logger
	metrics         *metrics.SyncMetrics
}

// NewQueue creates a queue storing prepared files under dir. Records that
// failed maxItemAttempts times are served after all others; 0 disables that.
func NewQueue(repos repomanager.RepositoryManager, preparer Preparer, dir string, maxItemAttempts int,
	log logging.Logger, m *metrics.SyncMetrics) *Queue {
	return &Queue{
		repos:           repos,
		preparer:        preparer,
		dir:             dir,
		maxItemAttempts: maxItemAttempts,
		validate:        validator.New(),
		log:             log,
		metrics:         m,
	}
}

// Enqueue prepares the file at src and records it as QUEUED_UPLOAD together
// with its Photo row.
func (q *Queue) Enqueue(ctx context.Context, src string, meta Metadata) (*models.AttachmentRecord, error) {
	recs, err := q.EnqueueBatch(ctx, []Item{{SourcePath: src, Metadata: meta}})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// EnqueueBatch prepares every item first and then inserts all rows in one
// transaction. On any failure no rows are written and every prepared file is
// removed.
func (q *Queue) EnqueueBatch(ctx context.Context, items []Item) ([]*models.AttachmentRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}
	for i, it := range items {
		if err := q.validate.Struct(it.Metadata); err != nil {
			return nil, fmt.Errorf("item %d: %w: %v", i, common.ErrIncorrectMetadata, err)
		}
	}

	recs := make([]*models.AttachmentRecord, 0, len(items))
	photos := make([]*models.Photo, 0, len(items))
	var written []string

	cleanup := func() {
		for _, p := range written {
			if err := filex.RemoveIfExists(p); err != nil {
				q.log.Warn(ctx, "failed to remove prepared file", "path", p, "error", err)
			}
		}
	}

	for _, it := range items {
		id := uuid.NewString()
		mediaType := media.OutputType(it.Metadata.PhotoType)
		filename := models.FilenameFor(id, mediaType)
		dst := filepath.Join(q.dir, filename)

		prepared, err := q.preparer.Prepare(ctx, it.SourcePath, it.Metadata.PhotoType, dst)
		if err != nil {
			cleanup()
			return nil, err
		}
		written = append(written, prepared.Path)

		ts := it.Metadata.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		size := prepared.Size
		recs = append(recs, &models.AttachmentRecord{
			ID:           id,
			Filename:     filename,
			LocalPath:    filename,
			MediaType:    prepared.MediaType,
			Size:         &size,
			State:        models.StateQueuedUpload,
			ScheduleID:   it.Metadata.ScheduleID,
			PhotoType:    it.Metadata.PhotoType,
			TechnicianID: it.Metadata.TechnicianID,
			JobTitle:     it.Metadata.JobTitle,
			StartDate:    it.Metadata.StartDate,
			SignerName:   it.Metadata.SignerName,
		})
		photos = append(photos, &models.Photo{
			ID:           id,
			ScheduleID:   it.Metadata.ScheduleID,
			Type:         it.Metadata.PhotoType,
			TechnicianID: it.Metadata.TechnicianID,
			Timestamp:    ts,
			SignerName:   it.Metadata.SignerName,
		})
	}

	err := q.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		for i := range recs {
			if err := tx.Attachments().Insert(ctx, recs[i]); err != nil {
				return err
			}
			if err := tx.Photos().Insert(ctx, photos[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	q.log.Info(ctx, "attachments enqueued", "count", len(recs), "schedule_id", recs[0].ScheduleID)
	q.refreshPending(ctx)
	return recs, nil
}

// ListPending returns up to limit records awaiting transfer in insertion order.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*models.AttachmentRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	return q.repos.Attachments().ListPending(ctx, limit, q.maxItemAttempts)
}

func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.repos.Attachments().CountPending(ctx)
	if err != nil {
		return 0, err
	}
	q.metrics.SetPending(n)
	return n, nil
}

func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	return q.repos.Attachments().MarkSynced(ctx, id)
}

func (q *Queue) Get(ctx context.Context, id string) (*models.AttachmentRecord, error) {
	return q.repos.Attachments().GetByID(ctx, id)
}

// Remove deletes the record and then its local file. A file that cannot be
// deleted is logged, not returned.
func (q *Queue) Remove(ctx context.Context, id string) error {
	rec, err := q.repos.Attachments().GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := q.repos.Attachments().Delete(ctx, id); err != nil {
		return err
	}
	q.removeFile(ctx, rec)
	return nil
}

func (q *Queue) removeFile(ctx context.Context, rec *models.AttachmentRecord) {
	if err := filex.RemoveIfExists(q.LocalPath(rec)); err != nil {
		q.log.Warn(ctx, "failed to remove attachment file", "attachment_id", rec.ID, "error", err)
	}
}

// LocalPath returns the absolute path of the record's private file.
func (q *Queue) LocalPath(rec *models.AttachmentRecord) string {
	if filepath.IsAbs(rec.LocalPath) {
		return rec.LocalPath
	}
	return filepath.Join(q.dir, rec.LocalPath)
}

// RemoveBySchedule drops every queued record of a schedule together with
// its files.
func (q *Queue) RemoveBySchedule(ctx context.Context, scheduleID string) (int, error) {
	recs, err := q.repos.Attachments().ListBySchedule(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	var errs error
	removed := 0
	for _, rec := range recs {
		if err := q.repos.Attachments().Delete(ctx, rec.ID); err != nil {
			if !errors.Is(err, common.ErrNotFound) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		q.removeFile(ctx, rec)
		removed++
	}
	q.refreshPending(ctx)
	return removed, errs
}

func (q *Queue) refreshPending(ctx context.Context) {
	if _, err := q.PendingCount(ctx); err != nil {
		q.log.Warn(ctx, "failed to refresh pending count", "error", err)
	}
}
