// Package server exposes governance, span tracking and monitoring over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/recoguard/recoguard/internal/governance"
	"github.com/recoguard/recoguard/internal/metrics"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/pkg/middleware"
	"github.com/recoguard/recoguard/internal/span"
	"github.com/recoguard/recoguard/internal/threshold"
)

// Server is the HTTP front of the governance core.
type Server struct {
	cfg        Config
	deps       Deps
	log        *logger.Logger
	validate   *validator.Validate
	limiter    *middleware.RateLimiter
	httpServer *http.Server

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// RateLimit is requests per second per client. 0 disables limiting.
	RateLimit int

	// CORSOrigins lists allowed origins. Empty allows any.
	CORSOrigins []string

	// MetricsPath serves Prometheus metrics when Deps.Metrics is set.
	MetricsPath string
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// Deps are the components the handlers call into. Metrics is optional.
type Deps struct {
	Coordinator *governance.Coordinator
	Tracker     *span.Tracker
	Store       *monitor.Store
	Thresholds  *threshold.Holder
	Audit       *threshold.AuditLog // optional
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
}

// New creates a server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Coordinator == nil || deps.Tracker == nil || deps.Store == nil || deps.Thresholds == nil {
		return nil, errors.New(errors.CodeValidation, "server: coordinator, tracker, store and thresholds are required")
	}
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = def.MetricsPath
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		log:      logger.OrDefault(deps.Logger).WithComponent("server"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(cfg.RateLimit),
			Burst:             cfg.RateLimit * 2,
			Exempt:            []string{"/healthz", s.cfg.MetricsPath},
			Logger:            s.log,
		})
	}
	return s, nil
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := s.setupRoutes()

	mws := []func(http.Handler) http.Handler{
		middleware.Recover(s.log),
		middleware.RequestID,
	}
	if s.deps.Metrics != nil {
		m := s.deps.Metrics
		mws = append(mws, func(next http.Handler) http.Handler {
			return metrics.HTTPMiddleware(m, next)
		})
	}
	mws = append(mws, middleware.CORS(s.cfg.CORSOrigins))
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware)
	}
	mws = append(mws, middleware.Logging(s.log))
	return middleware.Chain(mux, mws...)
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	if s.limiter != nil {
		go func() { _ = s.limiter.Run(ctx) }()
	}

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	s.started = false
	s.log.Info("Server stopped")
	return err
}

// Health returns whether the server is serving.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
