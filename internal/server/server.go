// Package server assembles the permission engine from configuration:
// repository, capability cache, checker registry, audit pipeline, and
// the observability HTTP listener (metrics and health).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timeax/fortiplugin/internal/audit"
	"github.com/timeax/fortiplugin/internal/capability"
	"github.com/timeax/fortiplugin/internal/config"
	"github.com/timeax/fortiplugin/internal/evaluate"
	"github.com/timeax/fortiplugin/internal/manifest"
	"github.com/timeax/fortiplugin/internal/registry"
	"github.com/timeax/fortiplugin/internal/repo"
	"github.com/timeax/fortiplugin/internal/service"
)

// Server wires the engine together and serves the observability
// endpoints. The decision and ingestion API is the embedded Service;
// hosts embed the engine in-process and call it directly.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	logLevel *slog.LevelVar
	metrics  *audit.Metrics
	emitter  *audit.Emitter
	version  string

	repository repo.Repository
	caps       *capability.Manager
	service    *service.Service
	verifier   *manifest.Verifier
	reloader   *config.ConfigReloader

	ready atomic.Bool

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener // if non-nil, Start uses this instead of creating one
	closers    []func()
}

// New creates a Server from configuration. Backend connections
// (Postgres, Redis) are deferred to Start so they inherit its context.
func New(cfg *config.Config, version string) (*Server, error) {
	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLogLevel(cfg.Logging.Level))
	logger := buildLogger(cfg, logLevel)
	metrics := audit.NewMetrics()

	sampling := audit.Sampling{
		Rate:     cfg.Logging.Audit.SamplingRate,
		DenyRate: cfg.Logging.Audit.DenySamplingRate,
	}
	redactor := audit.NewRedactor(cfg.Logging.Audit.RedactPaths)
	emitter := audit.NewEmitter(logger, sampling, cfg.Logging.Audit.RatePerSecond, redactor, metrics)

	verifier := manifest.NewVerifier(manifest.VerifierConfig{
		Require:         cfg.Manifest.RequireSignature,
		TrustedJWKSURLs: cfg.Manifest.TrustedJWKSURLs,
		CacheTTL:        cfg.Manifest.JWKSCacheTTL.Duration,
	})

	return &Server{
		cfg:      cfg,
		logger:   logger,
		logLevel: logLevel,
		metrics:  metrics,
		emitter:  emitter,
		verifier: verifier,
		version:  version,
	}, nil
}

// Service returns the decision and ingestion API. Nil before Start.
func (s *Server) Service() *service.Service {
	return s.service
}

// Verifier returns the manifest signature verifier.
func (s *Server) Verifier() *manifest.Verifier {
	return s.verifier
}

// Start connects the configured backends, wires the engine, and serves
// the observability endpoints. It blocks until the context is canceled
// or an unrecoverable error occurs.
func (s *Server) Start(ctx context.Context) error {
	if err := s.buildEngine(ctx); err != nil {
		return err
	}
	defer s.runClosers()

	if s.verifier.IsConfigured() {
		if err := s.verifier.StartCache(ctx); err != nil {
			return fmt.Errorf("starting jwks cache: %w", err)
		}
	}

	if s.cfg.Reload.Enabled && s.reloader != nil {
		if err := s.reloader.Start(ctx); err != nil {
			return fmt.Errorf("starting config reloader: %w", err)
		}
		defer s.reloader.Stop()
	}

	listenAddr := fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.Port)

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listenAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()
	if hs != nil {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
	}

	s.logger.Info("engine stopped gracefully")
	return nil
}

// SetReloader attaches a config reloader. The server registers itself
// for reload notifications covering cache TTL and audit settings.
func (s *Server) SetReloader(r *config.ConfigReloader) {
	s.reloader = r
	r.Register(s)
}

// OnConfigReload applies the reloadable parts of a new configuration:
// cache TTL, log level, and the audit sampling, throttle, and redaction
// settings.
func (s *Server) OnConfigReload(newCfg *config.Config) error {
	if s.caps != nil {
		s.caps.SetTTL(newCfg.Cache.TTL.Duration)
	}
	s.logLevel.Set(parseLogLevel(newCfg.Logging.Level))
	s.emitter.Reconfigure(audit.Sampling{
		Rate:     newCfg.Logging.Audit.SamplingRate,
		DenyRate: newCfg.Logging.Audit.DenySamplingRate,
	}, newCfg.Logging.Audit.RatePerSecond, audit.NewRedactor(newCfg.Logging.Audit.RedactPaths))
	s.cfg = newCfg
	return nil
}

// buildEngine connects backends and wires the repository, capability
// manager, registry, and service.
func (s *Server) buildEngine(ctx context.Context) error {
	repository, err := s.buildRepository(ctx)
	if err != nil {
		return err
	}
	s.repository = repository

	cache, err := s.buildCache(ctx)
	if err != nil {
		return err
	}

	compiler := capability.NewCompiler(repository, time.Now, s.logger)
	s.caps = capability.NewManager(cache, compiler, s.cfg.Cache.TTL.Duration, s.logger, s.metrics)

	conds := evaluate.NewConditions(defaultEnvProvider, nil)
	reg := registry.New(repository, s.caps, conds, time.Now)

	s.service = service.New(repository, reg, s.caps, s.emitter, s.metrics, s.logger)
	return nil
}

func (s *Server) buildRepository(ctx context.Context) (repo.Repository, error) {
	switch s.cfg.Database.Driver {
	case "postgres":
		pg, err := repo.ConnectPostgres(ctx, s.cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting postgres: %w", err)
		}
		s.addCloser(pg.Close)
		return pg, nil
	default:
		return repo.NewMemoryRepository(), nil
	}
}

func (s *Server) buildCache(ctx context.Context) (capability.Cache, error) {
	switch s.cfg.Cache.Backend {
	case "redis":
		rc, err := capability.ConnectRedis(ctx, s.cfg.Cache.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connecting redis: %w", err)
		}
		s.addCloser(func() { _ = rc.Close() })
		return rc, nil
	default:
		return capability.NewMemoryCache(), nil
	}
}

func (s *Server) addCloser(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

func (s *Server) runClosers() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// handler builds the observability mux: metrics, liveness, readiness.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// defaultEnvProvider resolves the deployment environment from the
// process environment.
func defaultEnvProvider(context.Context) string {
	return os.Getenv("APP_ENV")
}

// parseLogLevel maps a configured level name to an slog.Level.
func parseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLogger creates an slog.Logger based on configuration. The level
// var lets a config reload change verbosity without rebuilding the
// handler.
func buildLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var output *os.File
	switch cfg.Logging.Output {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}
