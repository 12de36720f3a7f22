// Package diagnostics serves a read-only HTTP view of the agent: liveness,
// the pending queue, the current upload session and Prometheus metrics.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/fieldsync/internal/client/host"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
	shutdownTimeout     = 5 * time.Second
)

type Queue interface {
	ListPending(ctx context.Context, limit int) ([]*models.AttachmentRecord, error)
	PendingCount(ctx context.Context) (int, error)
}

type SessionSource interface {
	Session() host.UploadSession
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type pendingItem struct {
	ID         string                 `json:"id"`
	Filename   string                 `json:"filename"`
	State      models.AttachmentState `json:"state"`
	ScheduleID string                 `json:"scheduleId"`
	PhotoType  models.PhotoType       `json:"photoType"`
	Size       *int64                 `json:"size,omitempty"`
	Attempts   int                    `json:"attempts"`
	LastError  string                 `json:"lastError,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewRouter builds the diagnostics handler. gatherer may be nil, in which
// case /metrics is not mounted.
func NewRouter(q Queue, sessions SessionSource, db Pinger, gatherer prometheus.Gatherer, log logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", Health(db, log))
	r.Route("/attachments", func(r chi.Router) {
		r.Get("/pending", Pending(q, log))
		r.Get("/count", Count(q, log))
	})
	r.Get("/session", Session(sessions))
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func Health(db Pinger, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			log.Warn(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}
}

func Pending(q Queue, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultPendingLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
				return
			}
			limit = min(n, maxPendingLimit)
		}

		recs, err := q.ListPending(r.Context(), limit)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		items := make([]pendingItem, 0, len(recs))
		for _, rec := range recs {
			items = append(items, pendingItem{
				ID:         rec.ID,
				Filename:   rec.Filename,
				State:      rec.State,
				ScheduleID: rec.ScheduleID,
				PhotoType:  rec.PhotoType,
				Size:       rec.Size,
				Attempts:   rec.Attempts,
				LastError:  rec.LastError,
				CreatedAt:  rec.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func Count(q Queue, log logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := q.PendingCount(r.Context())
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"pending": n})
	}
}

func Session(sessions SessionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessions.Session())
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	log.Error(r.Context(), "diagnostics request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Serve runs the handler on addr until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log logging.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "diagnostics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
