// Package api exposes the BookingPipe HTTP API.
//
// It serves the chat endpoint backed by the assistant, session and appointment
// management, the interpretation task endpoint, the Twilio webhook and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/interpret"
	"github.com/BTreeMap/BookingPipe/internal/messaging"
)

const (
	// DefaultAddr is the default listen address of the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// maxBodyBytes caps request bodies
	maxBodyBytes = 1 << 20
)

// Opts holds the optional parts of the server.
type Opts struct {
	Tasks          interpret.Service
	Twilio         *messaging.TwilioService
	MetricsHandler http.Handler
	RateLimitRPS   float64
	RateLimitBurst int
}

// Option defines a configuration option for the server.
type Option func(*Opts)

// WithTaskService serves POST /task from svc.
func WithTaskService(svc interpret.Service) Option {
	return func(o *Opts) { o.Tasks = svc }
}

// WithTwilio serves POST /twilio/webhook for the Twilio channel.
func WithTwilio(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.Twilio = svc }
}

// WithMetricsHandler serves GET /metrics from h.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.MetricsHandler = h }
}

// WithRateLimit limits every client IP to rps requests per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimitRPS = rps
		o.RateLimitBurst = burst
	}
}

// Server routes HTTP requests to the assistant.
type Server struct {
	assistant *assistant.Service
	opts      Opts
	router    chi.Router
}

// NewServer builds the router for asst.
func NewServer(asst *assistant.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{assistant: asst, opts: cfg}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.opts.RateLimitRPS > 0 {
		r.Use(newIPLimiter(s.opts.RateLimitRPS, s.opts.RateLimitBurst).middleware)
	}

	r.Get("/health", s.healthHandler)
	r.Post("/chat", s.chatHandler)
	r.Get("/sessions/{sessionID}", s.getSessionHandler)
	r.Delete("/sessions/{sessionID}", s.deleteSessionHandler)
	r.Get("/appointments", s.listAppointmentsHandler)
	r.Post("/appointments", s.createAppointmentHandler)
	if s.opts.Tasks != nil {
		r.Method(http.MethodPost, "/task", interpret.NewHandler(s.opts.Tasks))
	}
	if s.opts.Twilio != nil {
		r.Post("/twilio/webhook", s.opts.Twilio.WebhookHandler)
	}
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}
	return r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}
