package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"batched-inference/internal/config"
	"batched-inference/internal/infra/logging"
	"batched-inference/internal/usecase"
)

// Server is the client-facing generation API.
type Server struct {
	genUC   usecase.GenerationUseCase
	statsUC usecase.StatsUseCase
	auth    *AuthManager
	port    int
	log     *zerolog.Logger

	server *http.Server
	drain  time.Duration

	// cancelRequests ends the context of every in-flight request.
	cancelRequests context.CancelFunc
}

func NewServer(
	cfg config.ServerConfig,
	genUC usecase.GenerationUseCase,
	statsUC usecase.StatsUseCase,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	s := &Server{
		genUC:   genUC,
		statsUC: statsUC,
		auth:    auth,
		port:    cfg.Port,
		log:     logging.Component(logger, "WebServer"),
		drain:   cfg.DrainTimeout,
	}
	reqCtx, cancel := context.WithCancel(context.Background())
	s.cancelRequests = cancel
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
	}
	return s
}

// Routes builds the chi router. /health stays outside auth.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(CorrelationID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Get("/health", healthHandler)
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/generate", generateHandler(s.genUC, s.log))
		r.Get("/stats", statsHandler(s.statsUC))
	})
	return r
}

// Start blocks serving the API until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Bool("auth", s.auth.Enabled()).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Requests still waiting once the drain timeout passes have their context
// cancelled, so they answer 503 and Shutdown can return.
func (s *Server) Shutdown(ctx context.Context) error {
	t := time.AfterFunc(s.drain, func() {
		s.log.Warn().Dur("drain_timeout", s.drain).Msg("cancelling requests still in flight")
		s.cancelRequests()
	})
	defer t.Stop()
	defer s.cancelRequests()
	return s.server.Shutdown(ctx)
}
