// Package connector replays the local change log to the backend.
//
// Entries are grouped by the local transaction that wrote them. A batch is
// deleted once every entry in it was either accepted or rejected by the
// backend; retryable failures and auth pauses leave it in place for the next
// drain.
package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/metrics"
)

// ErrAuthPaused is returned by Drain when the backend rejected the session.
// The caller is expected to refresh the session before draining again.
var ErrAuthPaused = errors.New("change-log replay paused: session rejected")

const (
	DefaultInterval = 30 * time.Second
	maxBackoff      = 5 * time.Minute
	jitterWindow    = 250 * time.Millisecond
)

// DrainReport summarizes one Drain call.
type DrainReport struct {
	Batches  int
	Applied  int
	Rejected int
	Pending  int
	// Merged counts bundle entries already covered by an earlier push of the
	// same schedule in this drain. They are included in Applied.
	Merged int
}

type Connector struct {
	repos       repomanager.RepositoryManager
	backend     client.Backend
	invalidator auth.Invalidator
	log         logging.Logger
	metrics     *metrics.SyncMetrics
	mu          sync.Mutex
	now         func() time.Time
}

func New(repos repomanager.RepositoryManager, backend client.Backend, log logging.Logger, m *metrics.SyncMetrics) *Connector {
	return &Connector{
		repos:   repos,
		backend: backend,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// WithInvalidator sets the token cache that Run clears after an auth pause.
func (c *Connector) WithInvalidator(i auth.Invalidator) *Connector {
	c.invalidator = i
	return c
}

// stop ends a drain early without completing the current batch.
type stop struct {
	err error
}

// Drain replays every unapplied change-log entry in id order. It stops at the
// first retryable failure (returning it) or auth pause (ErrAuthPaused).
// Concurrent calls are serialized.
func (c *Connector) Drain(ctx context.Context) (DrainReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rep DrainReport
	entries, err := c.repos.Changes().ListUnapplied(ctx)
	if err != nil {
		return rep, err
	}

	var stopped *stop
	pushed := make(map[string]bool)
	for _, batch := range models.GroupByTx(entries) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if stopped = c.replayBatch(ctx, batch, pushed, &rep); stopped != nil {
			break
		}
		if err := c.repos.Changes().DeleteBatch(ctx, batch.TxID); err != nil {
			return rep, err
		}
		rep.Batches++
	}

	if n, err := c.repos.Changes().Count(ctx); err == nil {
		rep.Pending = n
	}

	if stopped != nil {
		return rep, stopped.err
	}
	if err := c.repos.Metadata().SetTime(ctx, common.MetaLastDrainedAt, c.now()); err != nil {
		c.log.Warn(ctx, "failed to record drain time", "error", err)
	}
	if len(entries) > 0 {
		c.log.Info(ctx, "change log drained", "batches", rep.Batches, "applied", rep.Applied, "rejected", rep.Rejected)
	}
	return rep, nil
}

// replayBatch sends the unapplied entries of one batch. Consecutive plain
// entries go out together; bundle entries are replayed one by one, once per
// schedule and drain.
func (c *Connector) replayBatch(ctx context.Context, batch models.ChangeBatch, pushed map[string]bool, rep *DrainReport) *stop {
	var run []*models.ChangeEntry
	flush := func() *stop {
		if len(run) == 0 {
			return nil
		}
		s := c.replayPlain(ctx, run, rep)
		run = nil
		return s
	}

	for _, e := range batch.Entries {
		if e.Applied {
			continue
		}
		if e.Table != models.TablePhotoBundles {
			run = append(run, e)
			continue
		}
		if s := flush(); s != nil {
			return s
		}
		if s := c.replayBundle(ctx, e, pushed, rep); s != nil {
			return s
		}
	}
	return flush()
}

func (c *Connector) replayPlain(ctx context.Context, entries []*models.ChangeEntry, rep *DrainReport) *stop {
	var err error
	if len(entries) == 1 {
		err = c.backend.Sync(ctx, client.OperationFor(entries[0]))
	} else {
		ops := make([]client.Operation, 0, len(entries))
		for _, e := range entries {
			ops = append(ops, client.OperationFor(e))
		}
		err = c.backend.SyncBulk(ctx, ops)
	}

	if s := c.settle(ctx, err, len(entries), "txid", entries[0].TxID); s != nil {
		return s
	}
	if err != nil {
		rep.Rejected += len(entries)
	} else {
		rep.Applied += len(entries)
	}

	merr := c.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		for _, e := range entries {
			if err := tx.Changes().MarkApplied(ctx, e.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if merr != nil {
		return &stop{err: fmt.Errorf("mark entries applied: %w", merr)}
	}
	return nil
}

// replayBundle pushes the current photo bundle of a schedule. Pending delete
// intents are replayed first, then the full photo set is sent with inline
// payloads. Returned URLs replace the inline payloads locally.
//
// Entries listed at drain start were all written before the first push of
// their schedule loaded the bundle, so later entries of a pushed schedule are
// marked applied without another call.
func (c *Connector) replayBundle(ctx context.Context, e *models.ChangeEntry, pushed map[string]bool, rep *DrainReport) *stop {
	log := c.log.With("schedule_id", e.RowID, "entry_id", e.ID)

	if pushed[e.RowID] {
		c.metrics.IncReplay(string(client.OutcomeSuccess))
		rep.Applied++
		rep.Merged++
		return c.markApplied(ctx, e)
	}

	bundle, err := c.repos.Bundles().Load(ctx, e.RowID)
	if errors.Is(err, models.ErrCorruptBundle) {
		log.Error(ctx, "photo bundle cannot be decoded, skipping entry", "error", err)
		c.metrics.IncReplay(string(client.OutcomeBusinessReject))
		rep.Rejected++
		return c.markApplied(ctx, e)
	}
	if err != nil {
		return &stop{err: err}
	}
	consumed := len(bundle.Pending)

	for _, in := range bundle.Pending {
		if in.Kind != models.IntentDelete || in.URL == "" {
			continue
		}
		err := c.backend.DeletePhoto(ctx, in.URL)
		if s := c.settle(ctx, err, 0, "photo_id", in.PhotoID); s != nil {
			return s
		}
	}

	urls, err := c.backend.UpdatePhotos(ctx, bundle.ScheduleID, bundle.RemoteURLs(), client.NewPhotosFrom(bundle.InlinePhotos()))
	if s := c.settle(ctx, err, 1, "schedule_id", bundle.ScheduleID); s != nil {
		return s
	}
	if err != nil {
		rep.Rejected++
		return c.markApplied(ctx, e)
	}
	rep.Applied++

	terr := c.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		// reload: intents may have been appended while the call was running
		current, err := tx.Bundles().Load(ctx, e.RowID)
		if err != nil {
			return err
		}
		current.MarkUploaded(urls)
		current.ConsumeIntents(consumed)
		if err := tx.Bundles().Save(ctx, current); err != nil {
			return err
		}
		return tx.Changes().MarkApplied(ctx, e.ID)
	})
	if terr != nil {
		return &stop{err: fmt.Errorf("apply bundle %s: %w", e.RowID, terr)}
	}
	pushed[e.RowID] = true
	return nil
}

func (c *Connector) markApplied(ctx context.Context, e *models.ChangeEntry) *stop {
	if err := c.repos.Changes().MarkApplied(ctx, e.ID); err != nil {
		return &stop{err: err}
	}
	return nil
}

// settle classifies err and records n entries against the outcome. A nil
// result means the drain may continue: the call either succeeded or was
// rejected for good.
func (c *Connector) settle(ctx context.Context, err error, n int, key, value string) *stop {
	if ctx.Err() != nil {
		return &stop{err: ctx.Err()}
	}
	outcome := client.Classify(err)
	for range n {
		c.metrics.IncReplay(string(outcome))
	}

	switch outcome {
	case client.OutcomeSuccess:
		return nil
	case client.OutcomeBusinessReject:
		c.log.Warn(ctx, "backend rejected change, dropping it", key, value, "error", err)
		return nil
	case client.OutcomeAuthPause:
		c.log.Warn(ctx, "backend rejected session, pausing replay", key, value)
		return &stop{err: fmt.Errorf("%w: %w", ErrAuthPaused, err)}
	default:
		c.log.Warn(ctx, "backend unavailable, replay will be retried", key, value, "error", err)
		return &stop{err: err}
	}
}

// Run drains the change log every interval until ctx is done. Failed drains
// back off exponentially; an auth pause also clears the cached session token.
func (c *Connector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, err := c.Drain(ctx)
		if err == nil {
			backoff = interval
			if err := sleep(ctx, withJitter(interval)); err != nil {
				return err
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, ErrAuthPaused) && c.invalidator != nil {
			c.invalidator.Invalidate()
		} else {
			c.log.Error(ctx, "change-log drain failed", "error", err)
		}
		backoff = nextBackoff(backoff, interval, maxBackoff)
		if err := sleep(ctx, withJitter(backoff)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
