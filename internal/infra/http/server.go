package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"batched-inference/internal/config"
	"batched-inference/internal/infra/metrics"
)

// Server exposes Prometheus metrics and a liveness probe on their own port,
// separate from the generation API.
type Server struct {
	port   int
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(cfg config.MetricsConfig, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "MetricsServer").Logger()
	s := &Server{port: cfg.Port, log: &l}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", s.handleHealthCheck)
	return mux
}

func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("metrics server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
