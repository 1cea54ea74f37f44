// Package web provides the HTTP ingress for storage notifications.
//
// It accepts the same bodies a queue would deliver: direct S3 event
// documents and SNS HTTP(S) subscription posts.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvsink/internal/config"
	"github.com/JonMunkholm/csvsink/internal/logging"
	"github.com/JonMunkholm/csvsink/internal/notify"
	"github.com/JonMunkholm/csvsink/internal/web/middleware"
)

// snsTypeHeader is set by SNS on every HTTP delivery.
const snsTypeHeader = "X-Amz-Sns-Message-Type"

// Dispatcher processes notification bodies. *notify.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []notify.Message) (*notify.Report, error)
}

// Pinger checks sink connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP ingress.
type Server struct {
	dispatcher Dispatcher
	pinger     Pinger
	cfg        config.ServerConfig
	router     *chi.Mux
	server     *http.Server
}

// NewServer creates a new Server instance. pinger may be nil, in which
// case /healthz only reports liveness.
func NewServer(d Dispatcher, pinger Pinger, cfg config.ServerConfig) *Server {
	s := &Server{
		dispatcher: d,
		pinger:     pinger,
		cfg:        cfg,
		router:     chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)

	if s.cfg.RateLimit > 0 {
		s.router.Use(middleware.NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).Handler)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.APIKeys))
		r.Post("/notifications", s.handleNotification)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // object loads can outlast any fixed bound
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("starting server", "addr", s.cfg.Addr())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// subscription is the part of an SNS control message we log.
type subscription struct {
	TopicArn     string `json:"TopicArn"`
	SubscribeURL string `json:"SubscribeURL"`
}

// handleNotification dispatches one notification body. The request id
// doubles as the message id so failures can be traced to the request.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "REQ002", "request body too large", err)
			return
		}
		respondError(w, r, http.StatusBadRequest, "REQ001", "could not read request body", err)
		return
	}

	switch r.Header.Get(snsTypeHeader) {
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		var sub subscription
		if err := json.Unmarshal(body, &sub); err != nil {
			logger.Debug("unreadable sns subscription body", "error", err)
		}
		logger.Warn("sns subscription message received; confirm it out of band",
			"type", r.Header.Get(snsTypeHeader),
			"topic_arn", sub.TopicArn,
			"subscribe_url", sub.SubscribeURL,
		)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "confirmation_required"})
		return
	}

	msg := notify.Message{ID: chimw.GetReqID(r.Context()), Body: body}
	report, err := s.dispatcher.Dispatch(r.Context(), []notify.Message{msg})
	if err != nil {
		respondDispatchError(w, r, report, err)
		return
	}

	status := http.StatusOK
	if len(report.Failures) > 0 {
		// Continue mode: the batch finished but some objects did not load.
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}
