// Package api is the HTTP boundary: the dataset webhook and run control.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"estate_hunter/config"
	"estate_hunter/metrics"
	"estate_hunter/models"
	"estate_hunter/scraper"
	"estate_hunter/storage"
)

const maxBodyBytes = 1 << 20

// Runner is the part of the orchestrator the HTTP boundary drives.
type Runner interface {
	Start(opts scraper.StartOptions) (models.RunState, error)
	Status() models.RunState
	ProcessDataset(ctx context.Context, src models.Source, datasetID string) (models.SourceResult, error)
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	cfg        *config.Config
	runner     Runner
	store      Pinger
	dedup      storage.Deduper
	metrics    *metrics.Metrics
	log        *zap.Logger
	router     http.Handler
	httpServer *http.Server
}

// NewServer wires the routes. store, dedup and m may be nil.
func NewServer(cfg *config.Config, runner Runner, store Pinger, dedup storage.Deduper, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if dedup == nil {
		dedup = storage.NewMemoryDeduper()
	}
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		dedup:   dedup,
		metrics: m,
		log:     log,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving on the configured address until Shutdown.
func (s *Server) Start() error {
	// The webhook ingests a whole dataset before answering, hence the long write timeout.
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}
	s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
