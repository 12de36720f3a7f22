package host

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// UploadSession is the progress of one background upload run. Values are
// copied in and out of the host; callers never share one.
type UploadSession struct {
	TotalAtStart int       `json:"totalAtStart"`
	Uploaded     int       `json:"uploaded"`
	Remaining    int       `json:"remaining"`
	Rejected     int       `json:"rejected,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	Status       Status    `json:"status"`
	Err          string    `json:"error,omitempty"`
}

// Progress returns the completed fraction in [0, 1].
func (s UploadSession) Progress() float64 {
	if s.TotalAtStart <= 0 {
		return 0
	}
	p := float64(s.Uploaded) / float64(s.TotalAtStart)
	if p > 1 {
		return 1
	}
	return p
}

// Reporter receives session updates, typically to drive a notification.
type Reporter interface {
	Progress(ctx context.Context, s UploadSession)
	Completed(ctx context.Context, s UploadSession)
	Failed(ctx context.Context, s UploadSession, err error)
}

type logReporter struct {
	log logging.Logger
}

// NewLogReporter reports session updates to log.
func NewLogReporter(log logging.Logger) Reporter {
	return &logReporter{log: log}
}

func (r *logReporter) Progress(ctx context.Context, s UploadSession) {
	r.log.Info(ctx, "upload progress", "uploaded", s.Uploaded, "total", s.TotalAtStart, "remaining", s.Remaining)
}

func (r *logReporter) Completed(ctx context.Context, s UploadSession) {
	r.log.Info(ctx, "upload completed", "uploaded", s.Uploaded, "took", time.Since(s.StartedAt).Round(time.Millisecond))
}

func (r *logReporter) Failed(ctx context.Context, s UploadSession, err error) {
	r.log.Error(ctx, "upload stopped", "uploaded", s.Uploaded, "remaining", s.Remaining, "error", err)
}
