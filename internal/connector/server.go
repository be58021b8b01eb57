package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conductorhq/conductor/internal/api/middleware"
	"github.com/conductorhq/conductor/internal/contracts"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server is the connector's HTTP surface. It exposes the execute
// endpoint the engine dispatches to, plus liveness probes.
type Server struct {
	connector  *Connector
	httpServer *http.Server
}

func NewServer(connector *Connector, host string, port int) *Server {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.Logger())
	router.Use(middleware.Recoverer())

	s := &Server{connector: connector}

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions/execute", s.handleExecute)
		r.Get("/health", s.handleHealth)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// handleExecute answers 200 for every logical outcome. Non-200 escapes
// only when the connector itself is broken, which the engine treats as a
// transport failure.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req contracts.ExecuteActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed execute request", http.StatusBadRequest)
		return
	}

	resp := s.connector.Execute(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode execute response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"connector": s.connector.ID(),
		"actions":   len(s.connector.Definitions()),
	})
}

func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Str("connector", s.connector.ID()).
		Msg("Starting connector server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
