package services

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/storage"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type fakeRemover struct {
	mu         sync.Mutex
	removed    []string
	bySchedule []string
}

func (f *fakeRemover) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return common.ErrNotFound
}

func (f *fakeRemover) RemoveBySchedule(ctx context.Context, scheduleID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bySchedule = append(f.bySchedule, scheduleID)
	return 2, nil
}

func setup(t *testing.T) (*repomanager.SQLiteRepositoryManager, *fakeRemover) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repomanager.NewSQLiteRepositoryManager(db), &fakeRemover{}
}

func changes(t *testing.T, repos repomanager.RepositoryManager) []*models.ChangeEntry {
	t.Helper()
	list, err := repos.Changes().ListUnapplied(context.Background())
	require.NoError(t, err)
	return list
}

func TestScheduleService_SaveRecordsPutThenPatch(t *testing.T) {
	repos, rm := setup(t)
	svc := NewScheduleService(repos, rm, logging.Discard())
	ctx := context.Background()

	sc := &models.Schedule{ID: "S1", Title: "Boiler service", StartDate: "2026-03-01", TechnicianID: "tech-1"}
	require.NoError(t, svc.Save(ctx, sc))
	sc.Title = "Boiler repair"
	require.NoError(t, svc.Save(ctx, sc))

	got, err := svc.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Boiler repair", got.Title)

	list := changes(t, repos)
	require.Len(t, list, 2)
	assert.Equal(t, models.OpPut, list[0].Op)
	assert.Equal(t, models.OpPatch, list[1].Op)
	assert.Equal(t, models.TableSchedules, list[1].Table)
	assert.NotEqual(t, list[0].TxID, list[1].TxID)

	var payload models.Schedule
	require.NoError(t, json.Unmarshal(list[1].Data, &payload))
	assert.Equal(t, "Boiler repair", payload.Title)

	require.Error(t, svc.Save(ctx, &models.Schedule{}))
}

func TestScheduleService_Delete(t *testing.T) {
	repos, rm := setup(t)
	svc := NewScheduleService(repos, rm, logging.Discard())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, &models.Schedule{ID: "S1", Title: "a"}))
	require.NoError(t, repos.Photos().Insert(ctx, &models.Photo{ID: "p1", ScheduleID: "S1", Type: models.PhotoBefore, Timestamp: time.Now()}))
	require.NoError(t, repos.Bundles().Save(ctx, &models.PhotoBundle{ScheduleID: "S1", Photos: []models.BundlePhoto{{ID: "p1", URL: "u", Uploaded: true}}}))

	removed, err := svc.Delete(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"S1"}, rm.bySchedule)

	_, err = repos.Photos().GetByID(ctx, "p1")
	require.ErrorIs(t, err, common.ErrNotFound)
	b, err := repos.Bundles().Load(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, b.Photos)

	list := changes(t, repos)
	last := list[len(list)-1]
	assert.Equal(t, models.OpDelete, last.Op)
	assert.Empty(t, last.Data)

	_, err = svc.Delete(ctx, "S1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestPhotoService_DeleteUploadedPhoto(t *testing.T) {
	repos, rm := setup(t)
	svc := NewPhotoService(repos, rm, logging.Discard())
	ctx := context.Background()

	require.NoError(t, repos.Photos().Insert(ctx, &models.Photo{ID: "p1", ScheduleID: "S1", Type: models.PhotoAfter, TechnicianID: "tech-1", Timestamp: time.Now()}))
	_, err := repos.Photos().SetRemoteURL(ctx, "p1", "https://cdn/p1.jpg")
	require.NoError(t, err)
	require.NoError(t, repos.Bundles().Save(ctx, &models.PhotoBundle{ScheduleID: "S1", Photos: []models.BundlePhoto{
		{ID: "p1", URL: "https://cdn/p1.jpg", Uploaded: true},
		{ID: "p2", URL: "https://cdn/p2.jpg", Uploaded: true},
	}}))

	require.NoError(t, svc.DeletePhoto(ctx, "p1"))

	b, err := svc.Bundle(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, b.Photos, 1)
	assert.Equal(t, "p2", b.Photos[0].ID)
	require.Len(t, b.Pending, 1)
	assert.Equal(t, models.PhotoIntent{Kind: models.IntentDelete, PhotoID: "p1", URL: "https://cdn/p1.jpg", Type: models.PhotoAfter}, b.Pending[0])

	ops, err := repos.Operations().ListDeletes(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "tech-1", ops[0].TechnicianID)

	list := changes(t, repos)
	require.Len(t, list, 1)
	assert.Equal(t, models.TablePhotoBundles, list[0].Table)
	assert.Equal(t, "S1", list[0].RowID)
	assert.Equal(t, []string{"p1"}, rm.removed)

	require.ErrorIs(t, svc.DeletePhoto(ctx, "p1"), common.ErrNotFound)
}

func TestPhotoService_DeleteLocalOnlyPhoto(t *testing.T) {
	repos, rm := setup(t)
	svc := NewPhotoService(repos, rm, logging.Discard())
	ctx := context.Background()
	require.NoError(t, repos.Photos().Insert(ctx, &models.Photo{ID: "p1", ScheduleID: "S1", Type: models.PhotoBefore, Timestamp: time.Now()}))

	require.NoError(t, svc.DeletePhoto(ctx, "p1"))

	assert.Empty(t, changes(t, repos), "nothing to tell the backend")
	ops, err := repos.Operations().ListDeletes(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
	assert.Equal(t, []string{"p1"}, rm.removed)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 2))))
	return buf.Bytes()
}

func TestPhotoService_AddInlineSignature(t *testing.T) {
	repos, rm := setup(t)
	svc := NewPhotoService(repos, rm, logging.Discard())
	ctx := context.Background()

	photo, err := svc.AddInlineSignature(ctx, "S1", "tech-1", pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, models.PhotoSignature, photo.Type)
	assert.True(t, photo.Inline())
	assert.Contains(t, photo.Data, "data:image/png;base64,")

	b, err := svc.Bundle(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, b.InlinePhotos(), 1)
	require.Len(t, b.Pending, 1)
	assert.Equal(t, models.IntentAdd, b.Pending[0].Kind)
	assert.Len(t, changes(t, repos), 1)

	_, err = svc.AddInlineSignature(ctx, "S1", "tech-1", []byte("\xff\xd8\xff\xe0 not a png"))
	require.ErrorIs(t, err, common.ErrIncorrectMetadata)
	_, err = svc.AddInlineSignature(ctx, "", "tech-1", pngBytes(t))
	require.ErrorIs(t, err, common.ErrIncorrectMetadata)
}
