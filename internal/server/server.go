package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"kobold-gateway/internal/config"
	"kobold-gateway/internal/history"
	"kobold-gateway/internal/kobold"
	"kobold-gateway/internal/profile"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	// Generations routinely run for minutes, streamed or not.
	writeTimeout = 15 * time.Minute
	idleTimeout  = 120 * time.Second
)

// Backend is the subset of the kobold client the HTTP surface needs.
type Backend interface {
	Generate(ctx context.Context, req kobold.GenerateRequest) (*kobold.Result, error)
	Status(ctx context.Context, apiServer string) (kobold.StatusSummary, error)
	Complete(ctx context.Context, apiServer, prompt string, o kobold.Overrides) (string, error)
}

type Server struct {
	cfg      config.Config
	backend  Backend
	store    history.Store
	profiles *profile.Registry
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, backend Backend, store history.Store, profiles *profile.Registry) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if store == nil {
		return nil, errors.New("history store must not be nil")
	}
	if profiles == nil {
		return nil, errors.New("profile registry must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	if cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiter(rateLimiterStore(cfg.Server.RateLimit)))
	}

	srv := &Server{
		cfg:      cfg,
		backend:  backend,
		store:    store,
		profiles: profiles,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed application, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// rateLimiterStore keeps a per-client token bucket. The burst is at least one
// request so fractional rates still admit traffic.
func rateLimiterStore(perSecond float64) middleware.RateLimiterStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(perSecond),
		Burst: max(1, int(math.Ceil(perSecond))),
	})
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	api := s.app.Group("/api")
	api.POST("/generate", s.handleGenerate)
	api.POST("/status", s.handleStatus)
	api.GET("/models", s.handleModels)

	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/messages", s.handleAddMessage)
	api.GET("/sessions/:id/prompt", s.handleSessionPrompt)
	api.POST("/sessions/:id/complete", s.handleCompleteSession)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("kobold-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /api/generate")
	fmt.Println("  POST /api/status")
	fmt.Println("  GET  /api/models")
	fmt.Println("  POST /api/sessions")
	fmt.Println("  GET  /api/sessions/:id")
	fmt.Println("  POST /api/sessions/:id/messages")
	fmt.Println("  GET  /api/sessions/:id/prompt")
	fmt.Println("  POST /api/sessions/:id/complete")
	fmt.Printf("Example:\n  curl http://%s:%d/api/status -H 'Content-Type: application/json' -d '{\"api_server\":\"http://localhost:5001\"}'\n\n", host, port)
}
