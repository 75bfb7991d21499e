// Package server provides the HTTP API for nutrirag.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/nutrirag/internal/config"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/retrieval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engine is the retrieval engine surface the API exposes. *retrieval.Engine implements it.
type Engine interface {
	AddItem(ctx context.Context, content string, metadata models.Metadata, itemType string) (string, error)
	BulkAdd(ctx context.Context, in models.BulkItemInput) ([]string, error)
	GetItem(ctx context.Context, id string) (*models.Record, error)
	DeleteItem(ctx context.Context, id string) error
	DeleteWhere(ctx context.Context, filter map[string]interface{}) ([]string, error)
	Retrieve(ctx context.Context, q models.RetrievalQuery) (*models.RetrievalResponse, error)
	ClearCaches(ctx context.Context) error
	Stats(ctx context.Context) (*retrieval.Stats, error)
}

// Recommender produces meal recommendations. *interview.Workflow implements it.
type Recommender interface {
	Run(ctx context.Context, profile models.UserProfile) (*models.Recommendation, error)
}

// WatchService reports the inbox directories being watched.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the nutrirag API.
type Server struct {
	engine      Engine
	recommender Recommender
	watch       WatchService
	gatherer    prometheus.Gatherer
	cacheDir    string
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithRecommender enables POST /api/v1/recommendations.
func WithRecommender(r Recommender) Option { return func(s *Server) { s.recommender = r } }

// WithWatch reports watched directories in the status response.
func WithWatch(w WatchService) Option { return func(s *Server) { s.watch = w } }

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithCacheDir reports the disk usage of dir in the status response.
func WithCacheDir(dir string) Option { return func(s *Server) { s.cacheDir = dir } }

// NewServer creates a server with the given dependencies.
func NewServer(engine Engine, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		config:   cfg,
		logger:   logger,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/items", s.handleAddItem)
		r.Post("/items/bulk", s.handleBulkAdd)
		r.Post("/items/delete-where", s.handleDeleteWhere)
		r.Get("/items/{id}", s.handleGetItem)
		r.Delete("/items/{id}", s.handleDeleteItem)
		r.Post("/retrievals", s.handleRetrieve)
		r.Post("/recommendations", s.handleRecommend)
		r.Post("/cache/clear", s.handleClearCache)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
