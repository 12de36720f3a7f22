package attachments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/client/media"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/storage"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type fakePreparer struct {
	failOn string
}

func (f *fakePreparer) Prepare(ctx context.Context, src string, kind models.PhotoType, dst string) (media.Prepared, error) {
	if src == f.failOn {
		return media.Prepared{}, &media.PreparationError{Path: src, Err: errors.New("corrupt image")}
	}
	data := []byte("prepared:" + src)
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return media.Prepared{}, err
	}
	return media.Prepared{Path: dst, Size: int64(len(data)), MediaType: media.OutputType(kind)}, nil
}

type fakeCaps struct {
	mu         sync.Mutex
	credCalls  int
	transfers  []string
	credErr    error
	skipCreds  map[string]bool
	failFor    map[string]bool
	delay      time.Duration
	block      chan struct{}
	started    chan struct{}
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	urlVersion int
}

func (f *fakeCaps) FetchCredentials(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credCalls++
	if f.credErr != nil {
		return nil, f.credErr
	}
	out := make(map[string]transfer.Credential, len(reqs))
	for _, r := range reqs {
		if f.skipCreds[r.FileName] {
			continue
		}
		out[r.FileName] = transfer.Credential{APIKey: "k", Signature: "sig-" + r.FileName}
	}
	return out, nil
}

func (f *fakeCaps) Transfer(ctx context.Context, path string, req transfer.Request, cred transfer.Credential) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.transfers = append(f.transfers, req.FileName)
	fail := f.failFor[req.FileName]
	v := f.urlVersion
	f.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	if fail {
		return "", errors.New("connection reset")
	}
	return fmt.Sprintf("https://cdn.example.com/v%d/%s", v, req.FileName), nil
}

func (f *fakeCaps) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

type fixture struct {
	repos *repomanager.SQLiteRepositoryManager
	queue *Queue
	dir   string
	src   string
}

func newFixture(t *testing.T, maxItemAttempts int) *fixture {
	t.Helper()
	base := t.TempDir()
	db, err := storage.Open(context.Background(), filepath.Join(base, "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := filepath.Join(base, "attachments")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	src := filepath.Join(base, "capture.jpg")
	require.NoError(t, os.WriteFile(src, []byte("raw"), 0o600))

	repos := repomanager.NewSQLiteRepositoryManager(db)
	q := NewQueue(repos, &fakePreparer{}, dir, maxItemAttempts, logging.Discard(), nil)
	return &fixture{repos: repos, queue: q, dir: dir, src: src}
}

func (f *fixture) enqueue(t *testing.T, n int, schedule string) []*models.AttachmentRecord {
	t.Helper()
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{SourcePath: f.src, Metadata: Metadata{
			ScheduleID: schedule, PhotoType: models.PhotoBefore, TechnicianID: "tech-1",
			JobTitle: "Boiler service", StartDate: "2026-03-01",
		}}
	}
	recs, err := f.queue.EnqueueBatch(context.Background(), items)
	require.NoError(t, err)
	return recs
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
