// Package api is the HTTP surface over the followup services: account
// endpoints, followup CRUD, schedule rules, and the small account-state
// resources the dashboard reads.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server wraps the HTTP server and its router.
type Server struct {
	handler http.Handler
	server  *http.Server
	router  *chi.Mux
}

// NewServer builds the server around fully-wired handlers.
func NewServer(host string, port int, router *chi.Mux) *Server {
	return &Server{
		handler: router,
		router:  router,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	log.Printf("[API] Listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[API] Shutting down...")
	return s.server.Shutdown(ctx)
}
