// Package server exposes the explorer over HTTP under /api/backend.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/internal/explorer"
	"github.com/Vadoid/iceberg-explorer/pkg/config"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
)

const (
	// APIPrefix is the path prefix of every API route.
	APIPrefix = "/api/backend"
	// Version is reported by the root route.
	Version = "1.0.0"
)

// Server is the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	metrics bool
	svc     *explorer.Service
	logger  *zap.Logger
	router  *mux.Router
	http    *http.Server
}

// New builds the router for svc.
func New(cfg *config.Config, svc *explorer.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg.Server,
		metrics: cfg.Observability.EnableMetrics,
		svc:     svc,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	if s.metrics {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodGet)
	api.HandleFunc("/sample", s.handleSample).Methods(http.MethodGet)
	api.HandleFunc("/compare", s.handleCompare).Methods(http.MethodGet)
	api.HandleFunc("/manifests", s.handleManifests).Methods(http.MethodGet)
	api.HandleFunc("/discover", s.handleDiscover).Methods(http.MethodGet)
	api.HandleFunc("/browse", s.handleBrowse).Methods(http.MethodGet)
	api.HandleFunc("/buckets", s.handleBuckets).Methods(http.MethodGet)
	api.HandleFunc("/projects", s.handleProjects).Methods(http.MethodGet)

	bq := api.PathPrefix("/bigquery").Subrouter()
	bq.HandleFunc("/datasets", s.handleDatasets).Methods(http.MethodGet)
	bq.HandleFunc("/tables", s.handleTables).Methods(http.MethodGet)
	bq.HandleFunc("/search-iceberg", s.handleSearchIceberg).Methods(http.MethodGet)

	s.router.Use(requestID, s.recoverer, s.instrument)
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if s.cfg.EnableGzip {
		h = gzhttp.GzipHandler(h)
	}
	h = cors(s.cfg.CORSOrigins)(h)
	return observability.TracingMiddleware(h)
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting API server", zap.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.http.Shutdown(ctx)
}
