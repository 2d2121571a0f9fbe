// Package server assembles the portal gateway's HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medialobby/gateway/internal/health"
	"github.com/medialobby/gateway/internal/middleware"
	"github.com/medialobby/gateway/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MetricsEnabled  bool
	MetricsPath     string
	ThrottleEnabled bool
	ThrottleRate    float64
	ThrottleBurst   int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MetricsEnabled:  true,
		MetricsPath:     "/metrics",
	}
}

// Server is the gateway HTTP server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	throttle   *middleware.Throttle
	checker    *health.Checker
	metrics    *observability.Metrics
	logger     observability.Logger
	cfg        *Config
	mu         sync.Mutex
	running    bool
}

// New creates a server wiring the handlers behind the middleware chain.
func New(cfg *Config, handlers *Handlers, checker *health.Checker, metrics *observability.Metrics, logger observability.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		// Falls back to the process-wide logger installed at startup;
		// a nop logger when none has been set.
		logger = observability.GetGlobalLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:   gin.New(),
		handlers: handlers,
		checker:  checker,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}

	s.registerRoutes()

	return s
}

// Handler returns the complete handler stack, outermost middleware first.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.engine

	if s.cfg.ThrottleEnabled {
		s.throttle = middleware.NewThrottle(s.cfg.ThrottleRate, s.cfg.ThrottleBurst, s.logger)
		handler = s.throttle.Middleware()(handler)
	}
	if s.metrics != nil {
		handler = middleware.Metrics(s.metrics, routePattern)(handler)
	}
	handler = middleware.Logging(s.logger)(handler)
	if len(s.cfg.AllowedOrigins) > 0 {
		handler = middleware.CORS(s.cfg.AllowedOrigins)(handler)
	}
	handler = middleware.ClientID()(handler)
	handler = middleware.RequestID()(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.running = true

	s.logger.Info("starting HTTP server",
		observability.String("addr", s.cfg.ListenAddr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server stopped unexpectedly",
				observability.Error(err),
			)
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.throttle != nil {
		s.throttle.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(shutdownCtx)
}

// registerRoutes binds the HTTP surface to the handlers.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/auth/check", s.handlers.AuthCheck)
		api.POST("/auth/logout", s.handlers.UserLogout)
		api.POST("/admin/logout", s.handlers.AdminLogout)
		api.POST("/auth/verify-invite", s.handlers.VerifyInvite)

		api.GET("/media/search", s.handlers.MediaSearch)

		api.Any("/admin-proxy/*path", s.handlers.AdminProxy)
		api.Any("/admin-proxy-proxy/*path", s.handlers.AdminProxy)

		api.Any("/proxy/:service", s.handlers.ServiceProxy)
		api.Any("/proxy/:service/*path", s.handlers.ServiceProxy)

		api.POST("/content-issues", s.handlers.ReportIssue)
		api.GET("/admin/content-issues", s.handlers.ListIssues)
		api.PUT("/admin/content-issues", s.handlers.UpdateIssue)
	}

	if s.checker != nil {
		s.engine.GET("/healthz", gin.WrapF(s.checker.HealthHandler()))
		s.engine.GET("/readyz", gin.WrapF(s.checker.ReadinessHandler()))
	}

	if s.metrics != nil && s.cfg.MetricsEnabled {
		path := s.cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(s.metrics.Handler()))
	}
}

// routePattern collapses parameterized paths so metric label cardinality
// stays bounded.
func routePattern(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/admin-proxy-proxy/"):
		return "/api/admin-proxy-proxy/*path"
	case strings.HasPrefix(path, "/api/admin-proxy/"):
		return "/api/admin-proxy/*path"
	case strings.HasPrefix(path, "/api/proxy/"):
		return "/api/proxy/:service"
	}
	return path
}
