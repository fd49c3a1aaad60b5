// Package server hosts the declpipe HTTP API. It owns the document
// store container lifecycle, the job runner pool and the optional
// scheduled drive ingester.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ozonereg/declpipe/internal/api"
	"github.com/ozonereg/declpipe/internal/catalog"
	"github.com/ozonereg/declpipe/internal/config"
	"github.com/ozonereg/declpipe/internal/drive"
	"github.com/ozonereg/declpipe/internal/jobs"
	"github.com/ozonereg/declpipe/internal/pipeline"
	"github.com/ozonereg/declpipe/internal/providers"
	"github.com/ozonereg/declpipe/internal/server/endpoints"
	"github.com/ozonereg/declpipe/internal/store"
	"github.com/ozonereg/declpipe/internal/svcctx"
)

// Server is the main declpipe HTTP server.
type Server struct {
	httpServer   *http.Server
	storeManager *store.DockerManager
	storeClient  *store.Client
	sink         *store.Sink
	jobManager   *jobs.Manager
	runner       *jobs.Runner
	registry     *providers.Registry
	configMgr    *config.Manager
	logger       *slog.Logger
	dataDir      string
	workers      int

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// DataDir is where uploaded and downloaded PDFs are staged
	DataDir string
	// Workers is the extraction worker count (default: 2)
	Workers int
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	appCfg := cfg.ConfigManager.Get()
	storeManager := store.NewDockerManager(
		appCfg.Store.ContainerName, appCfg.Store.Image, appCfg.Store.Port, cfg.Logger)

	registry, err := providers.NewRegistry(appCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		if err := registry.Reload(c); err != nil {
			cfg.Logger.Error("provider registry reload failed", "error", err)
			return
		}
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		storeManager: storeManager,
		registry:     registry,
		configMgr:    cfg.ConfigManager,
		logger:       cfg.Logger,
		dataDir:      cfg.DataDir,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.workers = cfg.Workers
	if s.workers <= 0 {
		s.workers = 2
	}

	return s, nil
}

// Start starts the server and the document store. It blocks until the
// context is cancelled or a startup step fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting document store")
	if err := s.storeManager.Start(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to start document store: %w", err)
	}

	s.storeClient = store.NewClient(s.storeManager.URL())
	if err := s.storeClient.HealthCheck(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("store health check failed: %w", err)
	}

	s.logger.Info("initializing store schema")
	if err := s.storeClient.InitSchema(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	cat, err := catalog.Load(ctx, s.storeClient)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to load reference catalog: %w", err)
	}
	s.logger.Info("reference catalog loaded",
		"substances", len(cat.Substances),
		"countries", len(cat.Countries))

	s.sink = store.NewSink(s.storeClient, s.logger, 32, 2*time.Second)
	s.jobManager = jobs.NewManager(s.storeClient, s.sink, s.logger)

	appCfg := s.configMgr.Get()
	pcfg := appCfg.Snapshot()

	ocr, err := s.registry.OCR(pcfg.OCRProvider)
	if err != nil {
		s.setNotRunning()
		return err
	}
	chat, err := s.registry.Chat(pcfg.ChatProvider)
	if err != nil {
		s.setNotRunning()
		return err
	}

	pipe := pipeline.New(s.storeClient, ocr, chat, cat, pcfg, s.logger)
	s.runner = jobs.NewRunner(pipe, s.workers, 64, s.logger)

	s.services = &svcctx.Services{
		Store:      s.storeClient,
		Sink:       s.sink,
		JobManager: s.jobManager,
		Runner:     s.runner,
		Registry:   s.registry,
		Catalog:    cat,
		Config:     s.configMgr,
		Logger:     s.logger,
		DataDir:    s.dataDir,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runner.Start(runCtx)
	}()

	if appCfg.Ingest.Enabled {
		src := drive.NewClient(
			config.ResolveEnvVars(appCfg.Ingest.BaseURL),
			config.ResolveEnvVars(appCfg.Ingest.APIKey),
			s.logger)
		ingester := drive.NewIngester(src, s.jobManager, pipe, s.storeClient, s.sink,
			appCfg.Ingest, pcfg, s.dataDir, s.logger)
		if err := ingester.EnsureLayout(ctx); err != nil {
			s.logger.Error("failed to ensure drive folder layout", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ingester.Run(runCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			cancel()
			wg.Wait()
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	cancel()
	wg.Wait()
	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server, the sink and
// the store container.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.sink != nil {
		s.sink.Close()
	}

	s.logger.Info("stopping document store")
	if err := s.storeManager.Stop(shutdownCtx); err != nil {
		s.logger.Error("store stop error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully
// initialized. Returns 503 until the store and job manager are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.storeClient == nil || s.jobManager == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
