// Package api exposes the connection manager to local UIs: a message endpoint
// mirroring the extension's runtime messages and a websocket feed of events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"adgmanager/internal/auth"
	"adgmanager/internal/connection"
	"adgmanager/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// MessageHandler answers UI messages
type MessageHandler interface {
	Handle(ctx context.Context, req connection.Request) connection.Response
}

// Health is the body of GET /api/health
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"startedAt"`
	Listeners int       `json:"listeners"`
}

type Server struct {
	handler MessageHandler
	hub     *Hub
	tokens  *auth.TokenManager
	limiter *RateLimiter
	log     *logrus.Entry
	version string
	started time.Time

	router chi.Router
	http   *http.Server
}

// Options configures a Server
type Options struct {
	Addr    string
	Version string
	Logger  *logrus.Entry
	// Requests per minute per client, 0 for the default
	RateLimit int
}

func NewServer(handler MessageHandler, hub *Hub, tokens *auth.TokenManager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 300
	}

	s := &Server{
		handler: handler,
		hub:     hub,
		tokens:  tokens,
		limiter: NewRateLimiter(opts.RateLimit, time.Minute),
		log:     opts.Logger.WithField("component", "api"),
		version: opts.Version,
		started: time.Now(),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(s.log))
	r.Use(s.limiter.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(RequireToken(s.tokens))
			r.Post("/message", s.handleMessage)
			r.Get("/ws", s.hub.ServeWS)
		})
	})
	return r
}

// Handler returns the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.log.Infof("API server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("API server shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:    "ok",
		Version:   s.version,
		StartedAt: s.started,
		Listeners: s.hub.Clients(),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := utils.ReadAllLimited(r.Body, utils.MaxMessageBodySize)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(connection.CodeInvalidRequest, err.Error()))
		return
	}

	var req connection.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(connection.CodeInvalidRequest, "invalid JSON message"))
		return
	}

	resp := s.handler.Handle(r.Context(), req)
	// Failures are part of the message protocol and travel with 200
	writeJSON(w, http.StatusOK, resp)
}

func errorResponse(code, msg string) connection.Response {
	return connection.Response{Error: &connection.ErrorBody{Code: code, Message: msg}}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}
