// Package photos persists Photo domain records.
package photos

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	Insert(ctx context.Context, p *models.Photo) error
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]*models.Photo, error)
	SetRemoteURL(ctx context.Context, id, url string) (bool, error)
	Delete(ctx context.Context, id string) error
}
