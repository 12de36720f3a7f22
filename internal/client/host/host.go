// Package host keeps the attachment uploader running in the background until
// the queue is empty, retrying failed cycles with exponential backoff.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/fieldsync/internal/client/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

var (
	ErrRetryBudgetExhausted = errors.New("upload retry budget exhausted")
	// ErrUploadStalled ends a session whose remaining records were all
	// rejected by the uploader. They stay queued for the next Start.
	ErrUploadStalled = errors.New("remaining uploads cannot be transferred")
)

type Queue interface {
	PendingCount(ctx context.Context) (int, error)
}

type Uploader interface {
	ProcessQueue(ctx context.Context) (attachments.BatchReport, error)
}

type Options struct {
	// MaxRetries is the number of uploader attempts per cycle.
	MaxRetries int
	// RetryBase is the first backoff delay; attempt n waits RetryBase*2^(n-1).
	RetryBase       time.Duration
	CheckInterval   time.Duration
	CompletionGrace time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryBase <= 0 {
		out.RetryBase = time.Second
	}
	if out.CheckInterval <= 0 {
		out.CheckInterval = 5 * time.Second
	}
	if out.CompletionGrace < 0 {
		out.CompletionGrace = 0
	}
	return out
}

type Host struct {
	queue    Queue
	uploader Uploader
	reporter Reporter
	opts     Options
	log      logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	gen     uint64
	session UploadSession
}

func New(q Queue, u Uploader, reporter Reporter, opts Options, log logging.Logger) *Host {
	if reporter == nil {
		reporter = NewLogReporter(log)
	}
	return &Host{
		queue:    q,
		uploader: u,
		reporter: reporter,
		opts:     opts.withDefaults(),
		log:      log,
		now:      time.Now,
		session:  UploadSession{Status: StatusIdle},
	}
}

// Start launches the background loop. It returns false if the loop is
// already running.
func (h *Host) Start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	h.gen++
	h.session = UploadSession{Status: StatusRunning, StartedAt: h.now()}

	go h.loop(ctx, h.gen, h.done)
	return true
}

// Stop ends the loop and resets the session. Transfers already in flight run
// to completion; their results are kept in the store but no longer reported.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
		h.gen++
	}
	h.session = UploadSession{Status: StatusIdle}
}

// Running reports whether the loop is active.
func (h *Host) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// Wait blocks until the most recently started loop has exited.
func (h *Host) Wait() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Session returns a copy of the current session.
func (h *Host) Session() UploadSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// update applies fn to the session of generation gen. It reports false when
// the loop was stopped or restarted in the meantime.
func (h *Host) update(gen uint64, fn func(s *UploadSession)) (UploadSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return UploadSession{}, false
	}
	fn(&h.session)
	return h.session, true
}

func (h *Host) finish(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen == gen && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Host) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer h.finish(gen)

	log := h.log.With("module", "host")
	for {
		if ctx.Err() != nil {
			return
		}

		pending, err := h.queue.PendingCount(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.fail(ctx, gen, err)
			}
			return
		}
		s, ok := h.update(gen, func(s *UploadSession) {
			if s.TotalAtStart == 0 {
				s.TotalAtStart = pending
			}
			s.Remaining = pending
		})
		if !ok {
			return
		}
		if pending == 0 {
			if s.Uploaded == 0 {
				h.update(gen, func(s *UploadSession) { s.Status = StatusIdle })
				log.Debug(ctx, "nothing to upload")
				return
			}
			h.complete(ctx, gen)
			return
		}

		rep, cycleErr := h.cycle(ctx)
		if ctx.Err() != nil {
			return
		}

		remaining, err := h.queue.PendingCount(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.fail(ctx, gen, err)
			}
			return
		}
		s, ok = h.update(gen, func(s *UploadSession) {
			s.Uploaded += rep.Uploaded + rep.Redundant
			s.Remaining = remaining
			s.Rejected = rep.Rejected
			if s.Uploaded+remaining > s.TotalAtStart {
				s.TotalAtStart = s.Uploaded + remaining
			}
		})
		if !ok {
			return
		}
		h.reporter.Progress(ctx, s)

		if cycleErr != nil {
			h.fail(ctx, gen, cycleErr)
			return
		}
		if remaining > 0 && remaining <= rep.Rejected {
			h.fail(ctx, gen, fmt.Errorf("%w: %d rejected", ErrUploadStalled, rep.Rejected))
			return
		}
		if remaining == 0 {
			h.complete(ctx, gen)
			return
		}
		if err := sleep(ctx, h.opts.CheckInterval); err != nil {
			return
		}
	}
}

// cycle runs the uploader until it succeeds or the retry budget is spent.
// Per-record transfer failures are not errors here; they stay queued and the
// loop picks them up again after CheckInterval. The uploader gets a context
// that survives Stop; only the backoff waits between attempts are interrupted.
func (h *Host) cycle(ctx context.Context) (attachments.BatchReport, error) {
	var total attachments.BatchReport
	work := context.WithoutCancel(ctx)

	b := retry.WithMaxRetries(uint64(h.opts.MaxRetries-1), retry.NewExponential(h.opts.RetryBase))
	err := retry.Do(ctx, b, func(_ context.Context) error {
		rep, err := h.uploader.ProcessQueue(work)
		total.Attempted += rep.Attempted
		total.Uploaded += rep.Uploaded
		total.Redundant += rep.Redundant
		total.Failed += rep.Failed
		total.Removed += rep.Removed
		total.Rejected = rep.Rejected

		switch {
		case err == nil:
			return nil
		case errors.Is(err, attachments.ErrAlreadyProcessing):
			// someone else is draining the queue; check again next interval
			return nil
		default:
			h.log.Warn(ctx, "upload attempt failed", "error", err)
			return retry.RetryableError(err)
		}
	})
	if err != nil && ctx.Err() == nil {
		return total, fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, h.opts.MaxRetries, err)
	}
	return total, nil
}

func (h *Host) complete(ctx context.Context, gen uint64) {
	s, ok := h.update(gen, func(s *UploadSession) {
		s.Status = StatusCompleted
		s.Remaining = 0
	})
	if !ok {
		return
	}
	h.reporter.Completed(ctx, s)
	_ = sleep(ctx, h.opts.CompletionGrace)
}

func (h *Host) fail(ctx context.Context, gen uint64, err error) {
	s, ok := h.update(gen, func(s *UploadSession) {
		s.Status = StatusFailed
		s.Err = err.Error()
	})
	if !ok {
		return
	}
	h.reporter.Failed(ctx, s, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
