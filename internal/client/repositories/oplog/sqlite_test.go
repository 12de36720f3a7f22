package oplog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/storage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddOperations(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	op := &models.AddPhotoOperation{
		ScheduleID: "s1", PhotoID: "p1", Timestamp: t0, TechnicianID: "tech-1",
		Type: models.PhotoSignature, RemoteURL: "https://cdn/p1.png", AttachmentID: "p1", SignerName: "Jane Roe",
	}
	require.NoError(t, r.InsertAdd(ctx, op))
	assert.NotEmpty(t, op.ID, "id is generated")
	require.NoError(t, r.InsertAdd(ctx, &models.AddPhotoOperation{
		ScheduleID: "s2", PhotoID: "p2", Timestamp: t0, Type: models.PhotoBefore, RemoteURL: "u", AttachmentID: "p2",
	}))

	adds, err := r.ListAdds(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, adds, 1)
	assert.Equal(t, "https://cdn/p1.png", adds[0].RemoteURL)
	assert.Equal(t, models.PhotoSignature, adds[0].Type)
	assert.Equal(t, "Jane Roe", adds[0].SignerName)
	assert.True(t, t0.Equal(adds[0].Timestamp))

	require.Error(t, r.InsertAdd(ctx, op), "operations are insert-only")
}

func TestDeleteOperations(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.InsertDelete(ctx, &models.DeletePhotoOperation{
		ScheduleID: "s1", PhotoID: "p1", Timestamp: time.Now(), Type: models.PhotoAfter,
	}))

	dels, err := r.ListDeletes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, dels, 1)
	assert.Equal(t, "p1", dels[0].PhotoID)
	assert.Equal(t, models.PhotoAfter, dels[0].Type)

	dels, err = r.ListDeletes(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, dels)
}
