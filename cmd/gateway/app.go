package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/medialobby/gateway/internal/config"
	"github.com/medialobby/gateway/internal/health"
	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/proxy"
	"github.com/medialobby/gateway/internal/ratelimit"
	"github.com/medialobby/gateway/internal/ratelimit/store"
	"github.com/medialobby/gateway/internal/search"
	"github.com/medialobby/gateway/internal/server"
	"github.com/medialobby/gateway/internal/session"
	"github.com/medialobby/gateway/internal/storage"
)

// application wires the gateway's components together and owns their
// lifecycle.
type application struct {
	cfg          *config.Config
	logger       observability.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	targets      *proxy.Resolver
	limiterStore *store.FileStore
	server       *server.Server
}

// newApplication builds every component from the configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	secrets, err := config.NewSecretResolver(cfg.Vault, config.WithSecretLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("secret resolver: %w", err)
	}
	if err := secrets.ResolveConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	if err := ensureDataDirs(cfg); err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics("portal")

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	limiterStore, err := store.NewFileStore(cfg.RateLimit.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	limiter := ratelimit.NewAttemptLimiter(limiterStore,
		ratelimit.WithLogger(logger),
		ratelimit.WithLimits(
			cfg.RateLimit.MaxAttempts,
			cfg.RateLimit.Window.Duration(),
			cfg.RateLimit.Lockout.Duration(),
		),
	)

	sessions := session.NewResolver(
		session.NewFileUserStore(cfg.Sessions.UserStorePath, logger),
		session.NewFileAdminStore(cfg.Sessions.AdminStorePath, logger),
		session.WithResolverLogger(logger),
		session.WithResolverMetrics(metrics),
	)

	invites := storage.NewInviteStore(cfg.Storage.InvitesPath, storage.WithInviteLogger(logger))
	issues := storage.NewIssueStore(cfg.Storage.IssuesPath, storage.WithIssueLogger(logger))

	searcher := search.NewAggregator(
		buildIndexer("movie-index", cfg.Search.Movies, "movie", logger),
		buildIndexer("series-index", cfg.Search.Series, "series", logger),
		search.WithAggregatorLogger(logger),
	)

	targets := proxy.NewResolver(cfg.Admin.BaseURL, cfg.Admin.Token, cfg.Admin.CredentialHeader)
	targets.SetBindings(cfg.Services.Bindings)

	forwarder := proxy.NewForwarder(
		proxy.WithForwarderLogger(logger),
		proxy.WithForwarderMetrics(metrics),
		proxy.WithForwarderTracer(tracer),
		proxy.WithUpstreamTimeout(cfg.Admin.UpstreamTimeout.Duration()),
	)

	checker := health.NewChecker(version)
	checker.RegisterCheck("rate-limit-store", health.DataDirCheck(cfg.RateLimit.StorePath))
	checker.RegisterCheck("issue-store", health.DataDirCheck(cfg.Storage.IssuesPath))
	checker.RegisterCheck("user-sessions", health.FileReadableCheck(cfg.Sessions.UserStorePath))
	checker.RegisterCheck("admin-sessions", health.FileReadableCheck(cfg.Sessions.AdminStorePath))

	handlers := server.NewHandlers(
		limiter, sessions, invites, issues, searcher, targets, forwarder,
		server.WithHandlersLogger(logger),
		server.WithHandlersMetrics(metrics),
	)

	srv := server.New(&server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:    cfg.Server.WriteTimeout.Duration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
		ThrottleEnabled: cfg.Throttle.Enabled,
		ThrottleRate:    cfg.Throttle.Rate,
		ThrottleBurst:   cfg.Throttle.Burst,
	}, handlers, checker, metrics, logger)

	return &application{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		targets:      targets,
		limiterStore: limiterStore,
		server:       srv,
	}, nil
}

// buildIndexer returns nil for an unconfigured indexer, which the
// aggregator treats as an absent leg.
func buildIndexer(name string, cfg config.IndexerConfig, mediaType string, logger observability.Logger) search.Indexer {
	if cfg.BaseURL == "" {
		return nil
	}
	return search.NewHTTPIndexer(name, cfg.BaseURL, cfg.APIKey, mediaType,
		search.WithIndexerLogger(logger),
	)
}

// ensureDataDirs creates the directories backing the file stores.
func ensureDataDirs(cfg *config.Config) error {
	paths := []string{
		cfg.RateLimit.StorePath,
		cfg.Storage.IssuesPath,
		cfg.Storage.InvitesPath,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("create data directory for %s: %w", p, err)
		}
	}
	return nil
}

// Run starts the gateway and blocks until a termination signal arrives.
// Config file changes refresh the named-service binding table without a
// restart.
func (a *application) Run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		a.targets.SetBindings(newCfg.Services.Bindings)
		a.logger.Info("service bindings refreshed",
			observability.Int("bindings", len(newCfg.Services.Bindings)),
		)
	}, config.WithWatcherLogger(a.logger))
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	if err := a.server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("termination signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", observability.Error(err))
	}
	if err := watcher.Stop(); err != nil {
		a.logger.Error("config watcher shutdown failed", observability.Error(err))
	}
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown failed", observability.Error(err))
	}
	if err := a.limiterStore.Close(); err != nil {
		a.logger.Error("rate limit store close failed", observability.Error(err))
	}

	a.logger.Info("gateway stopped")
	return nil
}
