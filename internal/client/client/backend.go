package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Operation is one plain row mutation sent to the backend.
type Operation struct {
	Op    models.ChangeOp `json:"op"`
	Table string          `json:"table"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OperationFor converts a change-log entry.
func OperationFor(e *models.ChangeEntry) Operation {
	return Operation{Op: e.Op, Table: e.Table, ID: e.RowID, Data: e.Data}
}

// NewPhoto is an inline photo payload handed to the backend for storage.
type NewPhoto struct {
	ID           string           `json:"id"`
	Type         models.PhotoType `json:"type,omitempty"`
	Data         string           `json:"data"`
	TechnicianID string           `json:"technicianId,omitempty"`
	Timestamp    time.Time        `json:"timestamp,omitzero"`
}

// NewPhotosFrom converts the inline photos of a bundle.
func NewPhotosFrom(photos []models.BundlePhoto) []NewPhoto {
	out := make([]NewPhoto, 0, len(photos))
	for _, p := range photos {
		out = append(out, NewPhoto{ID: p.ID, Type: p.Type, Data: p.Data, TechnicianID: p.TechnicianID, Timestamp: p.Timestamp})
	}
	return out
}

type Backend interface {
	// Sync applies a single mutation.
	Sync(ctx context.Context, op Operation) error
	// SyncBulk applies several mutations in one call.
	SyncBulk(ctx context.Context, ops []Operation) error
	// UpdatePhotos replaces the photo set of a schedule. It returns the
	// remote URL of every stored inline photo keyed by photo ID.
	UpdatePhotos(ctx context.Context, scheduleID string, existing []string, added []NewPhoto) (map[string]string, error)
	// DeletePhoto removes a remote photo by URL.
	DeletePhoto(ctx context.Context, url string) error
	Ping(ctx context.Context) error
	Close() error
}
