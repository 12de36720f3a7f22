// Package metrics exposes Prometheus instruments for the sync agent.
// A nil *SyncMetrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records attachment transfer and change-log replay activity.
type SyncMetrics struct {
	transfers     *prometheus.CounterVec
	inFlight      prometheus.Gauge
	pending       prometheus.Gauge
	batchDuration prometheus.Histogram
	replays       *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attachment_transfers_total",
		Help: "Attachment transfers by result.",
	}, []string{"result"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attachment_transfers_in_flight",
		Help: "Attachment transfers currently running.",
	})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "attachment_queue_pending",
		Help: "Attachments waiting for upload.",
	})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attachment_batch_duration_seconds",
		Help:    "Duration of one upload batch in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changelog_replays_total",
		Help: "Change-log entries replayed to the backend by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(transfers, inFlight, pending, batchDuration, replays)
	return &SyncMetrics{
		transfers:     transfers,
		inFlight:      inFlight,
		pending:       pending,
		batchDuration: batchDuration,
		replays:       replays,
	}
}

// TransferStarted marks one transfer as in flight.
func (m *SyncMetrics) TransferStarted() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

// TransferFinished records the result of a transfer started with TransferStarted.
func (m *SyncMetrics) TransferFinished(ok bool) {
	if m == nil || m.transfers == nil {
		return
	}
	m.inFlight.Dec()
	result := "failure"
	if ok {
		result = "success"
	}
	m.transfers.WithLabelValues(result).Inc()
}

// SetPending publishes the current queue depth.
func (m *SyncMetrics) SetPending(n int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

// ObserveBatch records how long an upload batch took.
func (m *SyncMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// IncReplay counts a replayed change-log entry by outcome.
func (m *SyncMetrics) IncReplay(outcome string) {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
