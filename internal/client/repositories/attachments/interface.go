// Package attachments persists the durable upload queue.
//
// Rows are ordered by an insertion sequence; ListPending returns the oldest
// pending rows first, pushing rows that reached the attempt ceiling to the
// back so they cannot starve fresh captures.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	Insert(ctx context.Context, a *models.AttachmentRecord) error
	GetByID(ctx context.Context, id string) (*models.AttachmentRecord, error)
	ListPending(ctx context.Context, limit, parkAfter int) ([]*models.AttachmentRecord, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]*models.AttachmentRecord, error)
	CountPending(ctx context.Context) (int, error)
	CountByState(ctx context.Context) (map[models.AttachmentState]int, error)
	MarkSynced(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, reason string) error
	Park(ctx context.Context, id string, reason string, attempts int) error
	Delete(ctx context.Context, id string) error
}
