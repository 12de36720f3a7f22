// Package oplog stores the insert-only add/delete photo operations used for
// server-side reconciliation.
package oplog

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	InsertAdd(ctx context.Context, op *models.AddPhotoOperation) error
	InsertDelete(ctx context.Context, op *models.DeletePhotoOperation) error
	ListAdds(ctx context.Context, scheduleID string) ([]*models.AddPhotoOperation, error)
	ListDeletes(ctx context.Context, scheduleID string) ([]*models.DeletePhotoOperation, error)
}
