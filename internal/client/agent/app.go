package agent

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fieldsync/internal/client/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/connector"
	"github.com/dmitrijs2005/fieldsync/internal/client/diagnostics"
	"github.com/dmitrijs2005/fieldsync/internal/client/host"
	"github.com/dmitrijs2005/fieldsync/internal/client/media"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/storage"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer/presigned"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer/signed"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/metrics"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// tokenSkew is how long before its expiry a cached session token is
// refreshed.
const tokenSkew = 30 * time.Second

type App struct {
	cfg      *config.Config
	log      logging.Logger
	db       *sql.DB
	repos    repomanager.RepositoryManager
	deviceID string
	registry *prometheus.Registry

	queue     *attachments.Queue
	uploader  *attachments.Uploader
	host      *host.Host
	connector *connector.Connector
	backend   client.Backend
	tokens    *auth.CachingSource
	schedules services.ScheduleService
	photos    services.PhotoService

	mu   sync.Mutex
	mode Mode
}

// New opens the store and builds every component from cfg. The store open
// is bounded by cfg.ConnectTimeout.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	db, err := storage.Open(ctx, cfg.Path(cfg.DatabasePath), cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	app, err := newApp(ctx, cfg, db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, cfg *config.Config, db *sql.DB, log logging.Logger) (*App, error) {
	repos := repomanager.NewSQLiteRepositoryManager(db)
	deviceID, err := repos.Metadata().GetOrCreate(ctx, common.MetaDeviceID, []byte(uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	log = log.With("device_id", string(deviceID))

	dir := cfg.Path(cfg.AttachmentDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("attachment dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSyncMetrics(reg)

	tokens := auth.NewCachingSource(auth.FileRefresher{Path: cfg.Path(cfg.TokenFile)}, tokenSkew)
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	backend, err := newBackend(cfg, tokens, httpClient)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	caps := newCapabilities(cfg, tokens, httpClient, backend)

	preparer := media.NewPreparer(media.Options{
		PhotoMaxDimension:     cfg.PhotoMaxDimension,
		SignatureMaxDimension: cfg.SignatureMaxDimension,
		JPEGQuality:           cfg.JPEGQuality,
	})
	queue := attachments.NewQueue(repos, preparer, dir, cfg.MaxItemAttempts, log.With("module", "queue"), m)
	uploader := attachments.NewUploader(queue, caps, cfg.ConcurrentUploads, log.With("module", "uploader"), m)
	h := host.New(queue, uploader, nil, host.Options{
		MaxRetries:      cfg.MaxRetries,
		RetryBase:       cfg.RetryBase,
		CheckInterval:   cfg.CheckInterval,
		CompletionGrace: cfg.CompletionGrace,
	}, log.With("module", "host"))
	conn := connector.New(repos, backend, log.With("module", "connector"), m).WithInvalidator(tokens)

	return &App{
		cfg:       cfg,
		log:       log,
		db:        db,
		repos:     repos,
		deviceID:  string(deviceID),
		registry:  reg,
		queue:     queue,
		uploader:  uploader,
		host:      h,
		connector: conn,
		backend:   backend,
		tokens:    tokens,
		schedules: services.NewScheduleService(repos, queue, log.With("module", "schedules")),
		photos:    services.NewPhotoService(repos, queue, log.With("module", "photos")),
		mode:      ModeOffline,
	}, nil
}

func newBackend(cfg *config.Config, tokens auth.TokenSource, httpClient *http.Client) (client.Backend, error) {
	if cfg.BackendTransport == config.TransportGRPC {
		return client.NewGRPCBackend(cfg.GRPCAddr, tokens)
	}
	return client.NewHTTPBackend(cfg.BackendURL, tokens, httpClient), nil
}

// newCapabilities selects the transfer implementation. Signed uploads take
// their credentials from the backend transport when it can issue them.
func newCapabilities(cfg *config.Config, tokens auth.TokenSource, httpClient *http.Client, backend client.Backend) transfer.Capabilities {
	if cfg.TransferMode == config.TransferS3 {
		return presigned.NewClient(presigned.Config{
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			PresignTTL:    cfg.S3PresignTTL,
		}, httpClient)
	}
	c := signed.NewClient(cfg.BackendURL, cfg.TransferBaseURL, tokens, httpClient)
	if issuer, ok := backend.(signed.Issuer); ok {
		c = c.WithIssuer(issuer)
	}
	return c
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if !changed {
		return
	}
	a.log.Info(ctx, "connectivity changed", "mode", mode)
	if mode == ModeOnline {
		// resume uploads that gave up while offline
		a.host.Start()
	}
}

func (a *App) currentMode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s)", a.currentMode())
}

// StartOnlineStatusWatcher pings the backend every interval and switches the
// agent between online and offline mode.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.backend.Ping(pingCtx); err != nil {
			a.setMode(ctx, ModeOffline)
			return
		}
		a.setMode(ctx, ModeOnline)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the background work and the command loop. It returns when the
// user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.StartOnlineStatusWatcher(gctx, a.cfg.CheckInterval)
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(a.connector.Run(gctx, a.cfg.DrainInterval))
	})
	if a.cfg.DiagnosticsAddr != "" {
		g.Go(func() error {
			h := diagnostics.NewRouter(a.queue, a.host, a.db, a.registry, a.log.With("module", "diagnostics"))
			return diagnostics.Serve(gctx, a.cfg.DiagnosticsAddr, h, a.log)
		})
	}
	a.host.Start()

	printlnFn("fieldsync agent (type 'help' for commands)")
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		runREPL(gctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
	}()

	select {
	case <-replDone:
	case <-gctx.Done():
	}
	cancel()
	return g.Wait()
}

// Close stops the uploader and releases the backend and the store.
func (a *App) Close() error {
	a.host.Stop()
	return errors.Join(a.backend.Close(), a.db.Close())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
