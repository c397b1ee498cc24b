// Package api exposes AskFlow over HTTP and wires every component together.
//
// The server accepts answer batches from the question front end, Twilio's
// inbound webhook when that transport is active, and two read-only status
// endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AskFlow/internal/flow"
	"github.com/BTreeMap/AskFlow/internal/messaging"
	"github.com/BTreeMap/AskFlow/internal/models"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = ":8080"

// Orchestrator is the part of flow.Orchestrator the HTTP layer drives.
type Orchestrator interface {
	HandleStructured(ctx context.Context, payload models.StructuredPayload) error
	Sessions() *flow.SessionStore
}

var _ Orchestrator = (*flow.Orchestrator)(nil)

// Server routes HTTP requests to the orchestrator and the messaging service.
type Server struct {
	orch       Orchestrator
	msgService messaging.Service
	addr       string
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds a server listening on addr (DefaultAddr when empty).
func NewServer(msgService messaging.Service, orch Orchestrator, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{orch: orch, msgService: msgService, addr: addr, mux: http.NewServeMux()}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/sessions", s.sessionsHandler)
	s.mux.HandleFunc("/webapp/submit", s.webappSubmitHandler)
	if tw, ok := s.msgService.(*messaging.TwilioService); ok {
		s.mux.HandleFunc("/twilio/webhook", func(w http.ResponseWriter, r *http.Request) {
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			tw.TwilioWebhookHandler(w, r)
		})
		slog.Debug("Server.routes: twilio webhook registered")
	}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Start listens until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("Server.Start: listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
