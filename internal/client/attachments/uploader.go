package attachments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/metrics"
)

var ErrAlreadyProcessing = errors.New("attachment queue is already being processed")

const DefaultConcurrentUploads = 10

// BatchReport summarizes one ProcessQueue call.
type BatchReport struct {
	Attempted int
	Uploaded  int
	Redundant int
	Failed    int
	// Rejected counts records that cannot be transferred until something
	// outside the queue changes, such as missing credentials. They stay
	// queued and parked.
	Rejected int
	Removed  int
}

func (r *BatchReport) add(o BatchReport) {
	r.Attempted += o.Attempted
	r.Uploaded += o.Uploaded
	r.Redundant += o.Redundant
	r.Failed += o.Failed
	r.Rejected += o.Rejected
	r.Removed += o.Removed
}

type Uploader struct {
	queue       *Queue
	repos       repomanager.RepositoryManager
	caps        transfer.Capabilities
	concurrency int
	log         logging.Logger
	metrics     *metrics.SyncMetrics
	running     atomic.Bool
	now         func() time.Time
}

func NewUploader(q *Queue, caps transfer.Capabilities, concurrency int, log logging.Logger, m *metrics.SyncMetrics) *Uploader {
	if concurrency <= 0 {
		concurrency = DefaultConcurrentUploads
	}
	return &Uploader{
		queue:       q,
		repos:       q.repos,
		caps:        caps,
		concurrency: concurrency,
		log:         log,
		metrics:     m,
		now:         time.Now,
	}
}

// ProcessQueue transfers pending attachments batch by batch until nothing is
// left that has not been tried during this call. A concurrent call returns
// ErrAlreadyProcessing immediately.
//
// Records whose transfer failed stay queued with their attempt counted and
// are only reported in the BatchReport. Errors are returned for failures that
// affect the whole pass, such as the credential fetch or the store.
func (u *Uploader) ProcessQueue(ctx context.Context) (BatchReport, error) {
	if !u.running.CompareAndSwap(false, true) {
		return BatchReport{}, ErrAlreadyProcessing
	}
	defer u.running.Store(false)

	start := u.now()
	defer func() { u.metrics.ObserveBatch(u.now().Sub(start)) }()

	var total BatchReport
	p := &pass{tried: make(map[string]struct{})}

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		rep, err := u.processBatch(ctx, p)
		total.add(rep)
		if err != nil {
			return total, err
		}
		if rep.Attempted == 0 && rep.Removed == 0 {
			break
		}
	}

	u.queue.refreshPending(ctx)
	if total.Uploaded > 0 {
		if err := u.repos.Metadata().SetTime(ctx, common.MetaLastUploadAt, u.now()); err != nil {
			u.log.Warn(ctx, "failed to store last upload time", "error", err)
		}
	}
	u.log.Info(ctx, "upload pass finished",
		"uploaded", total.Uploaded, "redundant", total.Redundant, "failed", total.Failed,
		"rejected", total.Rejected, "removed", total.Removed)
	if p.failures != nil {
		u.log.Warn(ctx, "transfers failed, records stay queued", "failed", total.Failed, "error", p.failures)
	}
	return total, nil
}

// ReconcileResult tells what ReconcileSuccess did.
type ReconcileResult int

const (
	// ReconcileApplied means the remote URL was recorded.
	ReconcileApplied ReconcileResult = iota + 1
	// ReconcileRedundant means the photo already had a URL; only the
	// record was marked SYNCED.
	ReconcileRedundant
	// ReconcileOrphaned means the photo is gone and the record was removed.
	ReconcileOrphaned
)

type outcome struct {
	result ReconcileResult
	err    error
	// rejected marks err as not retryable.
	rejected bool
}

// pass holds the state of one ProcessQueue call.
type pass struct {
	tried map[string]struct{}
	// failures collects per-record transfer errors for the pass summary.
	failures error
}

// processBatch handles up to concurrency records not tried yet in this pass.
// A returned error aborts the pass.
func (u *Uploader) processBatch(ctx context.Context, p *pass) (BatchReport, error) {
	var rep BatchReport
	tried := p.tried

	recs, err := u.queue.ListPending(ctx, u.concurrency+len(tried))
	if err != nil {
		return rep, fmt.Errorf("list pending: %w", err)
	}

	ready := make([]*models.AttachmentRecord, 0, u.concurrency)
	for _, rec := range recs {
		if len(ready) == u.concurrency {
			break
		}
		if _, ok := tried[rec.ID]; ok {
			continue
		}
		tried[rec.ID] = struct{}{}

		drop, err := u.orphaned(ctx, rec)
		if err != nil {
			return rep, err
		}
		if drop != "" {
			u.log.Warn(ctx, "dropping attachment", "attachment_id", rec.ID, "reason", drop)
			if err := u.queue.Remove(ctx, rec.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
				return rep, err
			}
			rep.Removed++
			continue
		}
		ready = append(ready, rec)
	}
	if len(ready) == 0 {
		return rep, nil
	}

	reqs := make([]transfer.Request, len(ready))
	for i, rec := range ready {
		reqs[i] = transfer.RequestFor(rec)
	}
	creds, err := u.caps.FetchCredentials(ctx, reqs)
	if err != nil {
		// The batch stays queued untouched.
		return rep, fmt.Errorf("fetch transfer credentials: %w", err)
	}

	var mu sync.Mutex
	results := make([]outcome, len(ready))

	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for i, rec := range ready {
		g.Go(func() error {
			res := u.transferOne(ctx, rec, reqs[i], creds)
			results[i] = res
			if res.err != nil && !res.rejected {
				mu.Lock()
				p.failures = multierr.Append(p.failures, fmt.Errorf("%s: %w", rec.ID, res.err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		rep.Attempted++
		switch {
		case res.rejected:
			rep.Rejected++
		case res.err != nil:
			rep.Failed++
		case res.result == ReconcileOrphaned:
			rep.Removed++
		case res.result == ReconcileRedundant:
			rep.Redundant++
		case res.result == ReconcileApplied:
			rep.Uploaded++
		}
	}
	return rep, nil
}

// orphaned reports why rec can never be transferred, or "" if it can.
func (u *Uploader) orphaned(ctx context.Context, rec *models.AttachmentRecord) (string, error) {
	if _, err := u.repos.Photos().GetByID(ctx, rec.ID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "owning photo no longer exists", nil
		}
		return "", err
	}
	if !filex.Exists(u.queue.LocalPath(rec)) {
		return "local file is missing", nil
	}
	return "", nil
}

func (u *Uploader) transferOne(ctx context.Context, rec *models.AttachmentRecord, req transfer.Request,
	creds map[string]transfer.Credential) outcome {
	log := u.log.With("attachment_id", rec.ID, "file", rec.Filename)

	cred, ok := creds[rec.Filename]
	if !ok {
		err := fmt.Errorf("%s: %w", rec.Filename, transfer.ErrMissingCredentials)
		log.Warn(ctx, "no credentials for attachment, parking it")
		u.park(ctx, rec.ID, err)
		return outcome{err: err, rejected: true}
	}

	u.metrics.TransferStarted()
	url, err := u.caps.Transfer(ctx, u.queue.LocalPath(rec), req, cred)
	u.metrics.TransferFinished(err == nil)
	if err != nil {
		log.Warn(ctx, "transfer failed", "error", err)
		u.recordFailure(ctx, rec.ID, err)
		return outcome{err: err}
	}
	log.Debug(ctx, "transfer succeeded", "url", url)

	res, err := u.ReconcileSuccess(ctx, rec.ID, url)
	if errors.Is(err, common.ErrNotFound) {
		// removed while the transfer was running
		return outcome{result: ReconcileOrphaned}
	}
	if err != nil {
		log.Error(ctx, "reconcile failed", "error", err)
		return outcome{err: err}
	}
	return outcome{result: res}
}

func (u *Uploader) recordFailure(ctx context.Context, id string, cause error) {
	if err := u.repos.Attachments().RecordFailure(ctx, id, cause.Error()); err != nil && !errors.Is(err, common.ErrNotFound) {
		u.log.Warn(ctx, "failed to record transfer failure", "attachment_id", id, "error", err)
	}
}

func (u *Uploader) park(ctx context.Context, id string, cause error) {
	err := u.repos.Attachments().Park(ctx, id, cause.Error(), u.queue.maxItemAttempts)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		u.log.Warn(ctx, "failed to park attachment", "attachment_id", id, "error", err)
	}
}

// addIntentPayload is the data of the change-log entry written on reconcile.
type addIntentPayload struct {
	PhotoID string           `json:"photoId"`
	URL     string           `json:"url"`
	Type    models.PhotoType `json:"type"`
}

// ReconcileSuccess records that the file of attachment id now lives at url.
// If the Photo already has a remote URL the call only marks the record
// SYNCED and leaves the URL untouched.
func (u *Uploader) ReconcileSuccess(ctx context.Context, id, url string) (ReconcileResult, error) {
	var res ReconcileResult
	var orphan *models.AttachmentRecord

	err := u.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		rec, err := tx.Attachments().GetByID(ctx, id)
		if err != nil {
			return err
		}

		photo, err := tx.Photos().GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			orphan = rec
			res = ReconcileOrphaned
			return tx.Attachments().Delete(ctx, id)
		}
		if err != nil {
			return err
		}

		if photo.RemoteURL != "" {
			res = ReconcileRedundant
			return tx.Attachments().MarkSynced(ctx, id)
		}

		updated, err := tx.Photos().SetRemoteURL(ctx, id, url)
		if err != nil {
			return err
		}
		if !updated {
			res = ReconcileRedundant
			return tx.Attachments().MarkSynced(ctx, id)
		}

		if err := tx.Operations().InsertAdd(ctx, &models.AddPhotoOperation{
			ScheduleID:   photo.ScheduleID,
			PhotoID:      photo.ID,
			Timestamp:    photo.Timestamp,
			TechnicianID: photo.TechnicianID,
			Type:         photo.Type,
			RemoteURL:    url,
			AttachmentID: rec.ID,
			SignerName:   photo.SignerName,
		}); err != nil {
			return err
		}

		bundle, err := tx.Bundles().Load(ctx, photo.ScheduleID)
		if errors.Is(err, models.ErrCorruptBundle) {
			u.log.Warn(ctx, "photo bundle is corrupt, rebuilding from photos", "schedule_id", photo.ScheduleID, "error", err)
			bundle, err = rebuildBundle(ctx, tx, photo.ScheduleID)
		}
		if err != nil {
			return err
		}
		bundle.Upsert(models.BundlePhoto{
			ID:           photo.ID,
			Type:         photo.Type,
			URL:          url,
			Uploaded:     true,
			TechnicianID: photo.TechnicianID,
			Timestamp:    photo.Timestamp,
		})
		bundle.Pending = append(bundle.Pending, models.PhotoIntent{
			Kind: models.IntentAdd, PhotoID: photo.ID, URL: url, Type: photo.Type,
		})
		if err := tx.Bundles().Save(ctx, bundle); err != nil {
			return err
		}

		data, err := json.Marshal(addIntentPayload{PhotoID: photo.ID, URL: url, Type: photo.Type})
		if err != nil {
			return err
		}
		if err := tx.Changes().Append(ctx, &models.ChangeEntry{
			TxID:  uuid.NewString(),
			Op:    models.OpPatch,
			Table: models.TablePhotoBundles,
			RowID: photo.ScheduleID,
			Data:  data,
		}); err != nil {
			return err
		}

		res = ReconcileApplied
		return tx.Attachments().MarkSynced(ctx, id)
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: %w", id, err)
	}
	if orphan != nil {
		u.queue.removeFile(ctx, orphan)
	}
	return res, nil
}

// rebuildBundle quarantines the stored bundle of a schedule and returns a new
// one holding every photo of the schedule that already has a remote URL.
func rebuildBundle(ctx context.Context, tx repomanager.RepositoryManager, scheduleID string) (*models.PhotoBundle, error) {
	if err := tx.Bundles().Quarantine(ctx, scheduleID); err != nil {
		return nil, err
	}
	photos, err := tx.Photos().ListBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	b := &models.PhotoBundle{ScheduleID: scheduleID}
	for _, p := range photos {
		if p.RemoteURL == "" {
			continue
		}
		b.Upsert(models.BundlePhoto{
			ID:           p.ID,
			Type:         p.Type,
			URL:          p.RemoteURL,
			Uploaded:     true,
			TechnicianID: p.TechnicianID,
			Timestamp:    p.Timestamp,
		})
	}
	return b, nil
}
