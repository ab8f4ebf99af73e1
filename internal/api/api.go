// Package api provides HTTP handlers and the main API server logic for the
// funnel conversation service.
//
// It exposes RESTful endpoints for managing funnels and conversations and for
// receiving inbound message webhooks. The API integrates with the funnel
// engine, messaging, and store modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MichaelRobotics/Hustler-sub011/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub011/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	"github.com/MichaelRobotics/Hustler-sub011/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

const shutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the funnel engine, store, and messaging service behind HTTP
// endpoints.
type Server struct {
	addr       string
	st         store.Store
	engine     *funnel.Engine
	msgService messaging.Service
	httpServer *http.Server
}

// NewServer creates an API server. msgService may be nil when no messaging
// transport is configured; the Twilio webhook route is then not registered.
func NewServer(st store.Store, engine *funnel.Engine, msgService messaging.Service, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		addr:       o.Addr,
		st:         st,
		engine:     engine,
		msgService: msgService,
	}
}

// Routes builds the HTTP handler with all endpoints registered.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /funnels", s.saveFunnelHandler)
	mux.HandleFunc("GET /funnels/{id}", s.getFunnelHandler)

	mux.HandleFunc("POST /conversations", s.startConversationHandler)
	mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)
	mux.HandleFunc("POST /conversations/{id}/messages", s.processMessageHandler)
	mux.HandleFunc("GET /conversations/{id}/messages", s.listMessagesHandler)
	mux.HandleFunc("POST /conversations/{id}/navigate", s.navigateHandler)
	mux.HandleFunc("POST /conversations/{id}/transition", s.transitionHandler)
	mux.HandleFunc("POST /conversations/{id}/close", s.closeConversationHandler)
	mux.HandleFunc("POST /conversations/{id}/abandon", s.abandonConversationHandler)

	if twilioSvc, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("POST /webhook/twilio", twilioSvc.WebhookHandler)
		slog.Debug("Server.Routes: Twilio webhook registered")
	}

	mux.HandleFunc("GET /health", s.healthHandler)

	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// statusForError maps the engine's error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrConversationNotFound),
		errors.Is(err, models.ErrFunnelNotFound),
		errors.Is(err, models.ErrStageNotFound),
		errors.Is(err, models.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConversationClosed),
		errors.Is(err, models.ErrStageEmpty):
		return http.StatusConflict
	case errors.Is(err, models.ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
