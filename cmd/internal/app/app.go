// Package app wires the duet server runtime: config, logging, storage selection,
// the analysis dispatcher and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"duet/cmd/internal/analysis"
	"duet/cmd/internal/catalog"
	"duet/cmd/internal/pairing"
	pairingapi "duet/cmd/internal/pairing/api"
	"duet/cmd/internal/relay"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns every long-lived resource of the server process.
type App struct {
	cfg Config
	log Logger

	storage    storage
	relay      relay.Relay
	catalog    *catalog.Catalog
	metrics    *Metrics
	dispatcher *analysis.Dispatcher
	coord      *pairing.Coordinator

	handler http.Handler
}

// storage bundles the selected pairing.Store with its lifecycle hooks.
type storage struct {
	store pairing.Store
	kind  string
	pool  *pgxpool.Pool
	ready readinessProbe
}

func (s storage) Close() error {
	err := s.store.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	cat.RequireAll = cfg.CatalogRequireAll

	st, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rl, err := newRelay(ctx, cfg, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	analyzer, err := newAnalyzer(cfg, cat, log)
	if err != nil {
		_ = rl.Close()
		_ = st.Close()
		return nil, err
	}

	metrics := NewMetrics()
	dispatcher := analysis.NewDispatcher(analyzer, pairing.NewResultSink(st.store, log),
		analysis.WithDispatcherLogger(log),
		analysis.WithDispatcherObserver(metrics),
		analysis.WithDispatcherConfig(analysis.DispatcherConfig{
			MaxAttempts:    cfg.AnalysisMaxAttempts,
			Backoff:        cfg.AnalysisBackoff,
			AttemptTimeout: cfg.AnalysisTimeout,
		}),
	)

	coord, err := pairing.NewCoordinator(st.store,
		pairing.WithAnalysisTrigger(dispatcher),
		pairing.WithRelay(rl),
		pairing.WithAnswerValidator(cat),
		pairing.WithObserver(metrics),
		pairing.WithLogger(log),
	)
	if err != nil {
		_ = rl.Close()
		_ = st.Close()
		return nil, err
	}

	api, err := pairingapi.NewHandler(log, coord, cat, pairingapi.Config{
		MaxBodyBytes:        cfg.MaxBodyBytes,
		PaymentMockEnabled:  cfg.PaymentMockEnabled,
		InviteFailureMax:    cfg.InviteFailureMax,
		InviteFailureWindow: cfg.InviteFailureWindow,
		TrustProxy:          cfg.TrustProxy,
	})
	if err != nil {
		_ = rl.Close()
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfg:        cfg,
		log:        log,
		storage:    st,
		relay:      rl,
		catalog:    cat,
		metrics:    metrics,
		dispatcher: dispatcher,
		coord:      coord,
		handler:    newRouter(log, cfg, st.ready, metrics, api.Routes()),
	}, nil
}

// Handler exposes the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
// Shutdown order: stop accepting requests, drain in-flight analyses, close stores.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.storage.kind, "catalog_version", a.catalog.Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close drains the dispatcher and releases stores. Safe to call once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.dispatcher.Close(ctx); err != nil {
		a.log.Warn("analysis.drain.incomplete", "err", err)
		errs = append(errs, err)
	}
	if err := a.relay.Close(); err != nil {
		a.log.Error("relay.close.fail", "err", err)
		errs = append(errs, err)
	}
	if err := a.storage.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// newStorage picks PostgreSQL, then SQLite, then the in-memory store.
func newStorage(ctx context.Context, cfg Config, log Logger) (storage, error) {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return storage{}, err
		}

		// Ownership model:
		// - app owns pool lifecycle
		// - PostgresStore.Close() is a no-op
		st, err := pairing.NewPostgresStore(pool, pairing.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return storage{}, err
		}
		if cfg.DBAutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				pool.Close()
				return storage{}, fmt.Errorf("migrate: %w", err)
			}
			log.Info("db.migrate.applied", "schema", cfg.DBSchema)
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
		return storage{
			store: st,
			kind:  "postgres",
			pool:  pool,
			ready: func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) },
		}, nil

	case strings.TrimSpace(cfg.SQLitePath) != "":
		st, err := pairing.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return storage{}, err
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return storage{store: st, kind: "sqlite", ready: st.Ping}, nil

	default:
		log.Info("db.disabled.inmemory_store")
		return storage{store: pairing.NewInMemoryStore(), kind: "memory"}, nil
	}
}

func newRelay(ctx context.Context, cfg Config, log Logger) (relay.Relay, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return relay.NewMemoryRelay(cfg.JoinSignalTTL), nil
	}
	rl, err := relay.DialRedis(ctx, cfg.RedisURL, cfg.JoinSignalTTL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("relay.enabled.redis")
	return rl, nil
}

// newAnalyzer uses the LLM analyzer when an API key is configured, else the local scorer.
func newAnalyzer(cfg Config, cat *catalog.Catalog, log Logger) (analysis.Analyzer, error) {
	local := analysis.NewLocalAnalyzer(cat)
	if strings.TrimSpace(cfg.AnalysisAPIKey) == "" {
		log.Info("analysis.local")
		return local, nil
	}
	llm, err := analysis.NewOpenAIAnalyzer(analysis.OpenAIConfig{
		APIKey:  cfg.AnalysisAPIKey,
		BaseURL: cfg.AnalysisBaseURL,
		Model:   cfg.AnalysisModel,
		Timeout: cfg.AnalysisTimeout,
		Referer: cfg.AnalysisReferer,
		Title:   cfg.AnalysisTitle,
	}, local)
	if err != nil {
		return nil, err
	}
	log.Info("analysis.llm", "model", cfg.AnalysisModel)
	return llm, nil
}
