package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/graph"
	"github.com/ha1tch/otkg/pkg/metrics"
	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the read-only inspection API over a built graph
type Server struct {
	config  *config.Config
	reader  storage.Reader
	cache   cache.Cache
	limiter *RateLimiter
	logger  zerolog.Logger
	router  *chi.Mux
	http    *http.Server
	done    chan struct{}
	stop    sync.Once

	indexMu sync.Mutex
	index   *graph.Index
	runID   string
	runSeen bool
}

// New creates a new server instance. c may be nil to disable response caching.
func New(cfg *config.Config, reader storage.Reader, c cache.Cache, logger zerolog.Logger) *Server {
	s := &Server{
		config:  cfg,
		reader:  reader,
		cache:   c,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  logger,
		router:  chi.NewRouter(),
		done:    make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(metrics.Middleware)
	s.router.Use(s.limiter.Middleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/nodes/{label}", s.handleListNodes)
		r.Get("/nodes/{label}/{id}", s.handleGetNode)

		r.Get("/graph/neighbors/{id}", s.handleNeighbors)
		r.Get("/graph/path", s.handleGraphPath)
		r.Get("/graph/stats", s.handleGraphStats)
	})
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.limiter.sweepEvery(10*time.Minute, s.done)

	s.logger.Info().Str("addr", addr).Msg("Starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop.Do(func() { close(s.done) })
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs each request through zerolog
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// refresh notices a newer build in the reader and drops the adjacency index
// and the cached responses of the previous one.
func (s *Server) refresh(ctx context.Context) {
	id, err := s.reader.LatestRun(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read latest run")
		return
	}

	s.indexMu.Lock()
	changed := s.runSeen && id != s.runID
	s.runID, s.runSeen = id, true
	if changed {
		s.index = nil
	}
	s.indexMu.Unlock()

	if !changed {
		return
	}
	s.logger.Info().Str("run_id", id).Msg("New build detected")
	if s.cache != nil {
		if _, err := s.cache.Invalidate(ctx, cache.ScopeAPI); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to invalidate cached responses")
		}
	}
}

// graphIndex builds the adjacency index from the reader on first use
func (s *Server) graphIndex(ctx context.Context) (*graph.Index, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if s.index != nil {
		return s.index, nil
	}

	idx := graph.NewIndex()
	err := s.reader.Relationships(ctx, func(rel models.Relationship) error {
		idx.AddEdge(rel.Start, rel.End, rel.Type)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("nodes", idx.NodeCount()).
		Int("edges", idx.EdgeCount()).
		Msg("Loaded graph index")
	s.index = idx
	return idx, nil
}
