// Package app builds the long-lived services behind the price search API and
// owns their shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/api"
	"github.com/JakeFAU/medprice/internal/artifacts"
	gcsartifacts "github.com/JakeFAU/medprice/internal/artifacts/gcs"
	localartifacts "github.com/JakeFAU/medprice/internal/artifacts/local"
	memoryartifacts "github.com/JakeFAU/medprice/internal/artifacts/memory"
	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/clock/system"
	"github.com/JakeFAU/medprice/internal/config"
	"github.com/JakeFAU/medprice/internal/events"
	"github.com/JakeFAU/medprice/internal/events/sinks"
	collyfetcher "github.com/JakeFAU/medprice/internal/fetcher/colly"
	"github.com/JakeFAU/medprice/internal/hash/sha256"
	"github.com/JakeFAU/medprice/internal/history"
	memoryhistory "github.com/JakeFAU/medprice/internal/history/memory"
	pghistory "github.com/JakeFAU/medprice/internal/history/postgres"
	"github.com/JakeFAU/medprice/internal/id/uuid"
	"github.com/JakeFAU/medprice/internal/logging"
	"github.com/JakeFAU/medprice/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/medprice/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/medprice/internal/publisher/pubsub"
	"github.com/JakeFAU/medprice/internal/retrieval"
	"github.com/JakeFAU/medprice/internal/sources"
	"github.com/JakeFAU/medprice/internal/telemetry"
)

const (
	eventsTopic     = "medprice-search-events"
	shutdownTimeout = 10 * time.Second
)

// Option overrides a collaborator Build would otherwise create from config.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	launch     browser.LaunchFunc
	exporters  []sdktrace.SpanExporter
}

// WithLogger uses logger instead of installing a global one.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers event collectors on reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithLauncher replaces the local Chrome launcher.
func WithLauncher(launch browser.LaunchFunc) Option {
	return func(o *buildOptions) { o.launch = launch }
}

// WithSpanExporters sends finished spans to exporters.
func WithSpanExporters(exporters ...sdktrace.SpanExporter) Option {
	return func(o *buildOptions) { o.exporters = exporters }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	restoreLogger   func()
	tracer          *sdktrace.TracerProvider
	browsers        *browser.Manager
	stopSignals     func()
	hub             *events.Hub
	publisher       *memorypublisher.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	closeArtifacts  func() error
	artifactStore   *memoryartifacts.BlobStore
	historyStore    *pghistory.Store
	history         *history.Recorder
	service         *retrieval.Service
	apiServer       *api.Server
}

// Build creates the application's dependencies. Anything built before a
// failure is closed before Build returns.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: o.logger}
	if a.logger == nil {
		a.logger, a.restoreLogger, err = logging.Install(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Environment),
	)

	a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Server.Environment,
		Exporters:   o.exporters,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	a.setupBrowser(ctx, o.launch)

	emitter, err := a.setupEvents(ctx, o.registerer)
	if err != nil {
		return nil, err
	}

	recorder, err := a.setupArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	if err = a.setupHistory(ctx); err != nil {
		return nil, err
	}

	if err = a.setupService(emitter, recorder); err != nil {
		return nil, err
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.apiServer, err = api.NewServer(api.Config{
		Searcher:       a.service,
		History:        a.history,
		Browser:        a.browsers,
		Logger:         a.logger.Named("api"),
		APIKey:         apiKey,
		FrontendURL:    cfg.Server.FrontendURL,
		Environment:    cfg.Server.Environment,
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}

	a.logger.Info("application dependencies ready")
	return a, nil
}

func (a *App) setupBrowser(ctx context.Context, launch browser.LaunchFunc) {
	bc := a.cfg.Browser
	if launch == nil {
		launch = browser.ChromeLauncher(browser.Config{
			Headless:      bc.Headless,
			ExecPath:      bc.ExecPath,
			NoSandbox:     bc.NoSandbox,
			UserAgent:     bc.UserAgent,
			LaunchTimeout: time.Duration(bc.LaunchTimeoutSeconds) * time.Second,
		})
	}
	a.browsers = browser.NewManager(launch, a.logger.Named("browser"))
	a.stopSignals = a.browsers.ReleaseOnSignal(syscall.SIGINT, syscall.SIGTERM)

	if !bc.Prelaunch {
		return
	}
	// A failed prelaunch is retried lazily by the first search.
	if _, err := a.browsers.Acquire(ctx); err != nil {
		a.logger.Warn("browser prelaunch failed", zap.Error(err))
	}
}

func (a *App) setupEvents(ctx context.Context, reg prometheus.Registerer) (events.Emitter, error) {
	ec := a.cfg.Events
	if !ec.Enabled {
		a.logger.Info("search events disabled")
		return nil, nil
	}

	var sinkList []events.Sink
	if ec.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events")))
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("event metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	pub, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	pubSink, err := sinks.NewPublisherSink(pub, a.topic())
	if err != nil {
		return nil, fmt.Errorf("event publisher init failed: %w", err)
	}
	sinkList = append(sinkList, pubSink)

	hubCfg := events.Config{
		BufferSize:    ec.BufferSize,
		MaxBatch:      ec.Batch.MaxEvents,
		FlushInterval: time.Duration(ec.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:   time.Duration(ec.SinkTimeoutMs) * time.Millisecond,
		Logger:        a.logger.Named("events_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch", hubCfg.MaxBatch),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
		zap.Int("sinks", len(sinkList)),
	)
	return a.hub, nil
}

func (a *App) topic() string {
	if a.cfg.PubSub.TopicName != "" {
		return a.cfg.PubSub.TopicName
	}
	return eventsTopic
}

func (a *App) setupPublisher(ctx context.Context) (sinks.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return a.publisher, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher, a.cfg.Telemetry.ServiceName), nil
}

func (a *App) setupArtifacts(ctx context.Context) (*artifacts.Recorder, error) {
	ac := a.cfg.Artifacts
	if !ac.Enabled {
		return nil, nil
	}
	var store artifacts.BlobStore
	switch ac.Backend {
	case "gcs":
		gcs, closeFn, err := gcsartifacts.Open(ctx, gcsartifacts.Config{Bucket: ac.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		a.closeArtifacts = closeFn
		store = gcs
		a.logger.Info("using GCS artifact store", zap.String("bucket", ac.Bucket))
	case "local":
		local, err := localartifacts.New(localartifacts.Config{BaseDir: ac.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local artifact store init failed: %w", err)
		}
		store = local
		a.logger.Info("using local artifact store", zap.String("path", ac.Local.BaseDir))
	default:
		a.artifactStore = memoryartifacts.NewBlobStore()
		store = a.artifactStore
		a.logger.Info("using in-memory artifact store")
	}
	rec, err := artifacts.New(artifacts.Config{
		Store:  store,
		Hasher: sha256.New(),
		Prefix: ac.Prefix,
		Now:    system.New().Now,
		Logger: a.logger.Named("artifacts"),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact recorder init failed: %w", err)
	}
	return rec, nil
}

func (a *App) setupHistory(ctx context.Context) error {
	var store history.Store
	if dc := a.cfg.Database; dc.DSN != "" {
		pg, err := pghistory.New(ctx, pghistory.Config{
			DSN:             dc.DSN,
			Table:           dc.Table,
			MaxConns:        dc.MaxConns,
			MinConns:        dc.MinConns,
			MaxConnLifetime: dc.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("history store init failed: %w", err)
		}
		a.historyStore = pg
		store = pg
		a.logger.Info("search history in Postgres", zap.String("table", dc.Table))
	} else {
		a.logger.Warn("no DSN specified for database, keeping search history in memory")
		store = memoryhistory.NewStore(0)
	}
	var err error
	a.history, err = history.NewRecorder(store)
	if err != nil {
		return fmt.Errorf("history recorder init failed: %w", err)
	}
	return nil
}

func (a *App) setupService(emitter events.Emitter, recorder *artifacts.Recorder) error {
	perKey := make(map[string]ratelimit.Rule, len(a.cfg.Sources))
	for name, sc := range a.cfg.Sources {
		perKey[name] = ratelimit.Rule{RPS: sc.RPS, Burst: sc.Burst}
	}
	opts := sources.Options{
		Limiter:   ratelimit.New(ratelimit.Config{PerKey: perKey}),
		Artifacts: recorder,
		Logger:    a.logger.Named("sources"),
		Settle:    time.Duration(a.cfg.Browser.SettleMs) * time.Millisecond,
	}
	hc := a.cfg.HTTP
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Browser.UserAgent,
		Timeout:        a.cfg.FetchBudget(),
		MaxTries:       uint(hc.MaxRetries) + 1, //nolint:gosec // validated non-negative
		InitialBackoff: time.Duration(hc.BackoffInitialMs) * time.Millisecond,
		MaxBackoff:     time.Duration(hc.BackoffMaxMs) * time.Millisecond,
		Logger:         a.logger.Named("fetcher"),
	})
	adapters := sources.All(opts, sources.TruemedsConfig{
		Endpoint: a.cfg.Sources[string(retrieval.SourceTruemeds)].Endpoint,
		Fetcher:  fetcher,
	})

	orch := retrieval.NewOrchestrator(retrieval.OrchestratorConfig{
		Browsers: a.browsers,
		Emitter:  emitter,
		Logger:   a.logger.Named("orchestrator"),
	}, adapters...)

	var err error
	a.service, err = retrieval.NewService(retrieval.ServiceConfig{
		Orchestrator:   orch,
		Defaults:       a.cfg.EnabledSources(),
		Timeouts:       a.cfg.SourceTimeouts(),
		IDs:            uuid.New(),
		Clock:          system.New(),
		Recorder:       a.history,
		HistoryTimeout: a.cfg.Database.WriteTimeout,
		Logger:         a.logger.Named("search"),
	})
	if err != nil {
		return fmt.Errorf("search service init failed: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Search runs one aggregated search outside of HTTP.
func (a *App) Search(ctx context.Context, keyword string, overrides map[string]bool) (retrieval.Response, error) {
	resp, err := a.service.Search(ctx, keyword, overrides)
	if err != nil {
		return retrieval.Response{}, fmt.Errorf("search %q: %w", keyword, err)
	}
	return resp, nil
}

// History returns the search history recorder.
func (a *App) History() *history.Recorder {
	return a.history
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases the browser, flushes events and closes every client. It is
// safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.stopSignals != nil {
		a.stopSignals()
	}
	if a.browsers != nil {
		a.browsers.Release()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("events dropped", zap.Int64("count", dropped))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.closeArtifacts != nil {
		if err := a.closeArtifacts(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.historyStore != nil {
		a.historyStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	if a.restoreLogger != nil {
		a.restoreLogger()
	}
}
