// Package server is the HTTP front end: job submission and polling, template
// listings, and liveness. Handlers are injected as an interface so the
// routing and lifecycle code stays testable without a running pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

// Handlers provides every HTTP handler the server routes to.
type Handlers interface {
	HandleIndex(w http.ResponseWriter, r *http.Request)
	HandleSubmit(w http.ResponseWriter, r *http.Request)
	HandlePoll(w http.ResponseWriter, r *http.Request)
	HandleTemplates(w http.ResponseWriter, r *http.Request)
	HandleHealth(w http.ResponseWriter, r *http.Request)
}

// Server owns the http.Server lifecycle and the route table.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	handler    http.Handler
	handlers   Handlers
	log        logging.Logger

	mu       sync.Mutex
	shutdown bool
}

// New builds a server bound to the configured address. Routes are registered
// once here; Start makes it listen.
func New(cfg config.ServerConfig, handlers Handlers, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}

	s := &Server{
		mux:      http.NewServeMux(),
		handlers: handlers,
		log:      log.WithComponent("server"),
	}
	s.registerRoutes()
	s.handler = Chain(s.mux, RequestLogging(s.log), Recovery(s.log))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.handler,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handlers.HandleIndex)
	// The job route serves both submission and polling; the original API
	// exposed it with a trailing slash, so both spellings work.
	s.mux.HandleFunc("/job", s.handleJob)
	s.mux.HandleFunc("/job/", s.handleJob)
	s.mux.HandleFunc("/templates", s.handlers.HandleTemplates)
	s.mux.HandleFunc("/health", s.handlers.HandleHealth)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.HandlePoll(w, r)
	case http.MethodPost:
		s.handlers.HandleSubmit(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Addr returns the bind address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the route table with middleware applied, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and blocks until ctx is canceled or the server fails. On
// cancellation it drains connections before returning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.NewInternalError(errors.ErrCodeShutdown, "server has already been shut down", nil)
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.Info(ctx, "http server listening", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		return errors.NewInternalError(errors.ErrCodeInternal, "http server failed", err)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests
// within ctx. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil
	}
	s.shutdown = true

	s.log.Info(ctx, "http server stopping")

	return s.httpServer.Shutdown(ctx)
}
