// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package autopilot assembles the autopilot service.
//
// This package wires the store, governance layer, signal monitor, rule
// engine, cycle engine and scheduler together from a config.Config and
// serves them over HTTP. Optional backends (Weaviate knowledge, InfluxDB
// performance, NATS alerts, Cloud Storage archive, the hash-chained audit
// export) are enabled purely by configuration.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := autopilot.New(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/autopilot/services/autopilot/alerts"
	"github.com/AleutianAI/autopilot/services/autopilot/archive"
	"github.com/AleutianAI/autopilot/services/autopilot/auditchain"
	"github.com/AleutianAI/autopilot/services/autopilot/config"
	"github.com/AleutianAI/autopilot/services/autopilot/cycle"
	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	"github.com/AleutianAI/autopilot/services/autopilot/events"
	"github.com/AleutianAI/autopilot/services/autopilot/generators"
	"github.com/AleutianAI/autopilot/services/autopilot/governance"
	"github.com/AleutianAI/autopilot/services/autopilot/knowledge"
	"github.com/AleutianAI/autopilot/services/autopilot/observability"
	"github.com/AleutianAI/autopilot/services/autopilot/performance"
	"github.com/AleutianAI/autopilot/services/autopilot/routes"
	"github.com/AleutianAI/autopilot/services/autopilot/rules"
	"github.com/AleutianAI/autopilot/services/autopilot/scheduler"
	"github.com/AleutianAI/autopilot/services/autopilot/signals"
	"github.com/AleutianAI/autopilot/services/autopilot/store"
	"github.com/AleutianAI/autopilot/services/autopilot/telemetry"
)

// serviceName labels spans from the HTTP middleware.
const serviceName = "autopilot"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the runnable autopilot service.
//
// # Thread Safety
//
// Run blocks and must be called at most once. Router is safe to call at
// any time after New.
type Service interface {
	// Run starts the scheduler, the rule override watcher and the HTTP
	// server, and blocks until ctx is cancelled or the server fails. On
	// return every resource held by the service has been released.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, mainly for tests.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
// Optional backends are nil when not configured. closers is released in
// reverse order by cleanup.
type service struct {
	config *config.Config
	logger *slog.Logger

	store     store.Store
	gov       *governance.Governance
	monitor   *signals.Monitor
	rules     *rules.Engine
	engine    *cycle.Engine
	scheduler *scheduler.Scheduler
	hub       *events.Hub
	metrics   *observability.Metrics
	router    *gin.Engine

	knowledge      knowledge.Loader
	knowledgeSaver knowledge.Saver
	performance    performance.Source
	snapshotSaver  *performance.Repository
	influx         *performance.InfluxSource
	overrides      *rules.OverrideWatcher
	chain          *auditchain.Logger
	nats           *alerts.NATSPublisher
	gcs            *archive.GCSArchiver

	telemetryShutdown func(context.Context) error
	closers           []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New builds the service from cfg.
//
// # Description
//
// Initialization order:
//  1. Telemetry (tracer and meter providers) and Prometheus metrics
//  2. Store (Badger or in-memory)
//  3. Audit sinks: event hub, optional audit chain, optional NATS mirror
//  4. Governance, signal monitor and rule engine (with fleet overrides)
//  5. Knowledge loader (store or Weaviate, optionally cached)
//  6. Performance source (store or InfluxDB)
//  7. Generator, alert dispatcher and archiver
//  8. Cycle engine, scheduler and HTTP router
//
// A Weaviate backend that cannot be reached falls back to the store
// loader with a warning. Every other backend failure is fatal and releases
// whatever was already opened.
//
// # Inputs
//
//   - ctx: Used for backend setup only.
//   - cfg: Validated configuration.
//   - logger: Service logger. Nil uses slog.Default().
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a required backend could not be initialized.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Service, error) {
	return newService(ctx, cfg, logger)
}

func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	if cfg == nil {
		return nil, errors.New("autopilot: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{config: cfg, logger: logger.With(slog.String("component", "service"))}

	steps := []struct {
		name string
		fn   func(context.Context, *slog.Logger) error
	}{
		{"telemetry", s.initTelemetry},
		{"store", s.initStore},
		{"governance", s.initGovernance},
		{"rules", s.initRules},
		{"knowledge", s.initKnowledge},
		{"performance", s.initPerformance},
		{"cycle engine", s.initEngine},
	}
	for _, step := range steps {
		if err := step.fn(ctx, logger); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	s.initScheduler(logger)
	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts background work and the HTTP server.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	if s.overrides != nil {
		if err := s.overrides.Start(ctx); err != nil {
			return fmt.Errorf("start rule override watcher: %w", err)
		}
	}
	if s.config.Scheduler.Enabled {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting autopilot server", slog.Int("port", s.config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down autopilot server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
	defer cancel()
	// Close websocket streams first; Shutdown does not wait for hijacked
	// connections.
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Router returns the configured Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initTelemetry(ctx context.Context, _ *slog.Logger) error {
	shutdown, err := telemetry.Init(ctx, s.config.Telemetry)
	if err != nil {
		return err
	}
	s.telemetryShutdown = shutdown
	s.metrics = observability.InitMetrics()
	return nil
}

func (s *service) initStore(_ context.Context, logger *slog.Logger) error {
	if s.config.Store.Backend == "memory" {
		mem := store.NewMemoryStore()
		s.store = mem
		s.addCloser("store", mem)
		s.logger.Warn("using in-memory store; state is lost on restart")
		return nil
	}
	bcfg := s.config.Store.Badger
	bcfg.Logger = logger
	bs, err := store.OpenBadger(bcfg)
	if err != nil {
		return err
	}
	s.store = bs
	s.addCloser("store", bs)
	return nil
}

// initGovernance builds the governance layer with its audit sinks and the
// signal monitor.
func (s *service) initGovernance(_ context.Context, logger *slog.Logger) error {
	s.hub = events.NewHub(logger)
	sinks := []governance.AuditSink{s.hub}

	if path := s.config.Governance.AuditChainPath; path != "" {
		chain, err := auditchain.NewLogger(path, logger)
		if err != nil {
			return fmt.Errorf("open audit chain: %w", err)
		}
		s.chain = chain
		s.addCloser("audit chain", chain)
		sinks = append(sinks, chain)
	}

	if s.config.Alerts.Backend == "nats" {
		token, err := s.config.Alerts.NATSToken.Reveal()
		if err != nil {
			return err
		}
		pub, err := alerts.NewNATSPublisher(alerts.NATSConfig{
			URL:           s.config.Alerts.NATSURL,
			Token:         token,
			Name:          s.config.Alerts.NATSName,
			ReconnectWait: s.config.Alerts.ReconnectWait,
			FlushTimeout:  s.config.Alerts.FlushTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		s.nats = pub
		s.addCloser("nats", pub)
		if s.config.Alerts.MirrorAudit {
			sinks = append(sinks, pub)
		}
	}

	s.gov = governance.New(s.store,
		governance.WithAuditSinks(sinks...),
		governance.WithAuditLimit(s.config.Governance.AuditLimit),
		governance.WithLogger(logger))
	s.monitor = signals.NewMonitor(s.store, signals.MonitorConfig{Logger: logger})
	return nil
}

func (s *service) initRules(_ context.Context, logger *slog.Logger) error {
	opts := []rules.Option{rules.WithLogger(logger)}
	if path := s.config.Rules.OverridesPath; path != "" {
		w, err := rules.NewOverrideWatcher(path, logger)
		if err != nil {
			return fmt.Errorf("load rule overrides: %w", err)
		}
		s.overrides = w
		opts = append(opts, rules.WithOverrideSource(w))
	}

	var err error
	if path := s.config.Rules.CatalogPath; path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read rule catalogue: %w", readErr)
		}
		s.rules, err = rules.NewEngineFromCatalog(data, opts...)
	} else {
		s.rules, err = rules.NewEngine(opts...)
	}
	return err
}

// initKnowledge selects the knowledge loader. Weaviate is optional: when
// it cannot be reached the store loader is used instead.
func (s *service) initKnowledge(ctx context.Context, logger *slog.Logger) error {
	repo := knowledge.NewRepository(s.store)
	var base interface {
		knowledge.Loader
		knowledge.Saver
	} = repo

	if s.config.Knowledge.Backend == "weaviate" {
		wl, err := s.initWeaviate(ctx, logger)
		if err != nil {
			s.logger.Warn("Weaviate initialization failed, using the store for knowledge",
				slog.String("error", err.Error()))
		} else {
			base = wl
		}
	}

	s.knowledge, s.knowledgeSaver = base, base
	if ttl := s.config.Knowledge.CacheTTL; ttl > 0 {
		cached := knowledge.NewCachedLoader(base, ttl)
		s.knowledge = cached
		s.knowledgeSaver = invalidatingSaver{Saver: base, cache: cached}
	}
	return nil
}

func (s *service) initWeaviate(ctx context.Context, logger *slog.Logger) (*knowledge.WeaviateLoader, error) {
	raw := strings.Trim(s.config.Knowledge.WeaviateURL, "\"' ")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", raw)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return nil, fmt.Errorf("create Weaviate client: %w", err)
	}
	wl := knowledge.NewWeaviateLoader(client, logger)
	if err := wl.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("Weaviate knowledge backend initialized", slog.String("url", raw))
	return wl, nil
}

func (s *service) initPerformance(_ context.Context, logger *slog.Logger) error {
	if s.config.Performance.Backend != "influx" {
		repo := performance.NewRepository(s.store)
		s.performance, s.snapshotSaver = repo, repo
		return nil
	}
	pc := s.config.Performance
	token, err := pc.InfluxToken.Reveal()
	if err != nil {
		return err
	}
	src, err := performance.NewInfluxSource(performance.InfluxConfig{
		URL:         pc.InfluxURL,
		Token:       token,
		Org:         pc.Org,
		Bucket:      pc.Bucket,
		Measurement: pc.Measurement,
		Period:      pc.Period,
	}, logger)
	if err != nil {
		return err
	}
	s.influx, s.performance = src, src
	s.addCloser("influx", closeFunc(src.Close))
	return nil
}

// initEngine builds the generator, alert dispatcher, archiver and the
// cycle engine on top of them.
func (s *service) initEngine(ctx context.Context, logger *slog.Logger) error {
	gen, err := s.buildGenerator(logger)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}

	opts := []cycle.Option{
		cycle.WithPerformance(s.performance),
		cycle.WithGenerator(gen),
		cycle.WithKnowledgeSaver(s.knowledgeSaver),
		cycle.WithLogger(logger),
		cycle.WithGeneratorTimeout(s.config.Cycle.GeneratorTimeout),
		cycle.WithHistoryLimit(s.config.Cycle.HistoryLimit),
	}

	var pub alerts.Publisher
	switch s.config.Alerts.Backend {
	case "nats":
		pub = s.nats
	case "log":
		pub = alerts.NewLogPublisher(logger)
	}
	if pub != nil {
		opts = append(opts, cycle.WithAlerts(alerts.NewDispatcher(pub, s.gov, alerts.WithLogger(logger))))
	}

	if s.config.Archive.Enabled {
		a := s.config.Archive
		gcs, err := archive.NewGCSArchiver(ctx, a.Bucket, a.Prefix, a.CredentialsFile)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		s.gcs = gcs
		s.addCloser("archive", gcs)
		opts = append(opts, cycle.WithArchiver(gcs))
	}

	s.engine = cycle.NewEngine(s.store, s.gov, s.monitor, s.rules, s.knowledge, opts...)
	return nil
}

func (s *service) buildGenerator(logger *slog.Logger) (generators.Generator, error) {
	gc := s.config.Generator
	switch gc.Backend {
	case "http":
		return generators.NewHTTPGenerator(generators.HTTPConfig{
			BaseURL:           gc.URL,
			RequestsPerSecond: gc.RequestsPerSecond,
			Burst:             gc.Burst,
			Timeout:           gc.Timeout,
		}, logger)
	case "openai":
		key, err := gc.OpenAIKey.Reveal()
		if err != nil {
			return nil, err
		}
		return generators.NewOpenAIGenerator(key, gc.OpenAIModel, logger)
	default:
		return &generators.Static{}, nil
	}
}

func (s *service) initScheduler(logger *slog.Logger) {
	s.scheduler = scheduler.New(s.store, s.gov, s.engine, s.config.Scheduler.Config,
		scheduler.WithLogger(logger),
		scheduler.WithObserver(s.observeTick))
}

// observeTick feeds scheduler passes into the Prometheus metrics.
func (s *service) observeTick(r scheduler.TickResult) {
	s.metrics.RecordTick(observability.TickOutcome{
		GlobalEnabled:      r.GlobalEnabled,
		Duration:           r.CompletedAt.Sub(r.StartedAt),
		Succeeded:          r.Succeeded,
		Skipped:            r.Skipped,
		Failed:             r.Failed,
		ApprovalsExpired:   r.ApprovalsExpired,
		EmergenciesResumed: r.EmergenciesResumed,
	})
	s.metrics.SetEventSubscribers(s.hub.Subscribers())
}

func (s *service) initRouter() {
	gin.SetMode(s.config.Server.Mode)
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(s.metrics.Middleware())

	deps := routes.Deps{
		Governance:     s.gov,
		Engine:         s.engine,
		Monitor:        s.monitor,
		Rules:          s.rules,
		Knowledge:      s.knowledge,
		Performance:    s.performance,
		KnowledgeSaver: s.knowledgeSaver,
		Hub:            s.hub,
		Scheduler:      s.scheduler,
		MetricsHandler: telemetry.MetricsHandler(),
	}
	// Nil concrete pointers must not become non-nil interfaces.
	if s.snapshotSaver != nil {
		deps.SnapshotSaver = s.snapshotSaver
	}
	if s.influx != nil {
		deps.PointRecorder = s.influx
	}
	routes.SetupRoutes(s.router, deps)
}

// =============================================================================
// Cleanup
// =============================================================================

func (s *service) addCloser(name string, c io.Closer) {
	s.closers = append(s.closers, namedCloser{name: name, c: c})
}

// cleanup releases everything New and Run acquired, newest first. It is
// safe to call on a partially initialized service.
func (s *service) cleanup() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.overrides != nil {
		s.overrides.Stop()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	s.archiveAuditChain()

	for i := len(s.closers) - 1; i >= 0; i-- {
		nc := s.closers[i]
		if err := nc.c.Close(); err != nil {
			s.logger.Warn("close failed", slog.String("resource", nc.name), slog.String("error", err.Error()))
		}
	}
	s.closers = nil

	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
		}
		s.telemetryShutdown = nil
	}
}

// archiveAuditChain uploads the audit chain file next to the cycle
// archive, so a verified copy outlives the host.
func (s *service) archiveAuditChain() {
	if s.gcs == nil || s.chain == nil {
		return
	}
	path := s.config.Governance.AuditChainPath
	object := fmt.Sprintf("audit/%s-%s", time.Now().UTC().Format("20060102T150405Z"), filepath.Base(path))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.gcs.UploadFile(ctx, path, object); err != nil {
		s.logger.Warn("audit chain upload failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("audit chain archived", slog.String("object", object))
}

// invalidatingSaver drops the cached graph after every save so the next
// cycle reads what was just written.
type invalidatingSaver struct {
	knowledge.Saver
	cache *knowledge.CachedLoader
}

func (s invalidatingSaver) Save(ctx context.Context, graph *datatypes.KnowledgeGraph) error {
	err := s.Saver.Save(ctx, graph)
	if graph != nil {
		s.cache.Invalidate(graph.AccountID)
	}
	return err
}

// closeFunc adapts a Close with no error result.
type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}
