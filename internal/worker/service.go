// Package worker hosts the engine's HTTP surface: intent capture, context
// resolution, the admin sweep trigger and the stats endpoint.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/tripmesh/contextengine/internal/capture"
	"github.com/tripmesh/contextengine/internal/queue"
	"github.com/tripmesh/contextengine/internal/search"
	"github.com/tripmesh/contextengine/internal/sweep"
	"github.com/tripmesh/contextengine/internal/vector"
)

// DefaultHTTPTimeout bounds every request, including provider-backed ones.
const DefaultHTTPTimeout = 30 * time.Second

// Service is the HTTP front of the engine.
type Service struct {
	capturer *capture.Capturer
	resolver *search.Resolver
	sweeper  *sweep.Sweeper
	queue    *queue.Queue
	store    vector.Store

	router    *chi.Mux
	server    *http.Server
	limiter   *RateLimiter
	startTime time.Time
	version   string
}

// Config wires the service's collaborators.
type Config struct {
	Capturer *capture.Capturer
	Resolver *search.Resolver
	Sweeper  *sweep.Sweeper
	Queue    *queue.Queue
	Store    vector.Store
	Version  string

	// RateLimit is requests per second across all clients; 0 disables.
	RateLimit float64
	Burst     int
}

// NewService builds the router and handlers.
func NewService(cfg Config) *Service {
	svc := &Service{
		capturer:  cfg.Capturer,
		resolver:  cfg.Resolver,
		sweeper:   cfg.Sweeper,
		queue:     cfg.Queue,
		store:     cfg.Store,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		version:   cfg.Version,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		svc.limiter = NewRateLimiter(cfg.RateLimit, burst)
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(MaxBodySize(1 << 20))
	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter))
	}
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/intents", s.handleIntent)
		r.Post("/context", s.handleContext)
		r.Post("/sweep", s.handleSweep)
		r.Get("/stats", s.handleStats)
	})
}

// Router exposes the configured router, used directly by tests.
func (s *Service) Router() http.Handler { return s.router }

// Start listens on the given port until ctx is cancelled.
func (s *Service) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("HTTP service listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests.
func (s *Service) Shutdown() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
