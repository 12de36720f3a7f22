// Package changelog stores the local change log replayed against the backend.
package changelog

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	Append(ctx context.Context, e *models.ChangeEntry) error
	ListUnapplied(ctx context.Context) ([]*models.ChangeEntry, error)
	ListBatch(ctx context.Context, txID string) ([]*models.ChangeEntry, error)
	MarkApplied(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, txID string) error
	Count(ctx context.Context) (int, error)
}
