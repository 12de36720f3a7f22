// Package bundles stores per-schedule photo bundles together with their
// pending add/delete intents.
package bundles

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	Load(ctx context.Context, scheduleID string) (*models.PhotoBundle, error)
	Save(ctx context.Context, b *models.PhotoBundle) error
	Delete(ctx context.Context, scheduleID string) error
	Quarantine(ctx context.Context, scheduleID string) error
}
