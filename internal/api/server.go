// Package api exposes pulse intake, reports and limits over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server is the API HTTP server.
type Server struct {
	config   Config
	handler  *Handler
	router   *mux.Router
	server   *http.Server
	listener net.Listener // set when systemd hands over the socket
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, handler *Handler, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:  cfg,
		handler: handler,
		router:  router,
		logger:  logger.With().Str("component", "api").Logger(),
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	h := s.handler
	s.router.HandleFunc("/health", h.Health).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/messages", h.HandleMessage).Methods("POST", "OPTIONS")
	v1.HandleFunc("/pulses", h.ListPulses).Methods("GET")
	v1.HandleFunc("/pulses", h.SubmitPulse).Methods("POST", "OPTIONS")
	v1.HandleFunc("/reports/{date}", h.GetReport).Methods("GET")
	v1.HandleFunc("/limits", h.ListLimits).Methods("GET")
	v1.HandleFunc("/limits", h.CreateLimit).Methods("POST", "OPTIONS")
	v1.HandleFunc("/limits/check", h.CheckLimit).Methods("GET")
	v1.HandleFunc("/limits/{id:[0-9]+}", h.GetLimit).Methods("GET")
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts serving in the background.
func (s *Server) Start() error {
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
		}
		s.listener = ln
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated API listener")
	}

	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting API server")

	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
