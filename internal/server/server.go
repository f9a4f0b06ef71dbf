// Package server exposes the GitHub webhook endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"

	"github.com/a-saketh/pr-notifier/internal/event"
)

const (
	// HealthMessage is served on GET /.
	HealthMessage = "Webhook used by SCM team engineering Backoffice"

	// DefaultAckTimeout is how long a delivery may run before GitHub is
	// answered anyway. GitHub gives up on a delivery after ten seconds.
	DefaultAckTimeout = 9 * time.Second

	// GitHub caps webhook payloads at 25 MB.
	maxPayloadBytes = 25 << 20
)

// EventHandler processes pull_request deliveries.
type EventHandler interface {
	Handle(ctx context.Context, evt event.PullRequestEvent)
}

// Option configures a Server.
type Option func(*Server)

// WithAckTimeout sets how long the webhook waits for a delivery to finish
// before acknowledging it as still processing.
func WithAckTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.ackTimeout = d
	}
}

// Server serves a health check on "/" and the signed webhook endpoint.
// Each routed delivery runs in its own goroutine; Wait blocks until every
// started delivery has finished.
type Server struct {
	http.Handler

	log        *slog.Logger
	secret     []byte
	events     EventHandler
	ackTimeout time.Duration
	inflight   sync.WaitGroup
}

// New builds the server with the webhook mounted on webhookPath.
func New(log *slog.Logger, secret, webhookPath string, events EventHandler, opts ...Option) *Server {
	s := &Server{
		log:        log.With(slog.String("component", "server")),
		secret:     []byte(secret),
		events:     events,
		ackTimeout: DefaultAckTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(HealthMessage))
	})
	r.Post(webhookPath, s.webhook)
	s.Handler = r
	return s
}

// Wait blocks until all started deliveries are done or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for deliveries: %w", ctx.Err())
	}
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	kind := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	log := s.log.With(slog.String("delivery", deliveryID), slog.String("event", kind))

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("payload too large", slog.Int64("limit", tooLarge.Limit))
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		log.Warn("webhook signature verification failed", slog.Any("error", err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	parsed, err := github.ParseWebHook(kind, payload)
	if err != nil {
		log.Warn("invalid webhook payload", slog.Any("error", err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	pr, ok := parsed.(*github.PullRequestEvent)
	if !ok {
		log.Debug("ignoring event")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return
	}

	done := s.dispatch(context.WithoutCancel(r.Context()), log, event.FromGitHub(deliveryID, pr))

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case <-done:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("accepted"))
	case <-timer.C:
		log.Warn("delivery still running, acknowledging", slog.Duration("after", s.ackTimeout))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("still processing"))
	}
}

// dispatch runs the delivery in the background. The returned channel is
// closed when it finishes.
func (s *Server) dispatch(ctx context.Context, log *slog.Logger, evt event.PullRequestEvent) <-chan struct{} {
	done := make(chan struct{})
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("delivery panicked", slog.Any("panic", rec))
			}
		}()
		s.events.Handle(ctx, evt)
	}()
	return done
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request completed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
