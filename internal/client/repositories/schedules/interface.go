// Package schedules persists Schedule records.
package schedules

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	Upsert(ctx context.Context, s *models.Schedule) (created bool, err error)
	Get(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)
	Delete(ctx context.Context, id string) error
}
