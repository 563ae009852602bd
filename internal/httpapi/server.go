// Package httpapi exposes the relay gateway over HTTP: session creation,
// status polling, browser redirects with forwarded cookies, completion, the
// WebSocket status watch, health and Prometheus metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/handoff/relay/internal/metrics"
	"github.com/handoff/relay/internal/ratelimit"
	"github.com/handoff/relay/internal/relay"
	"github.com/handoff/relay/internal/ws"
)

const maxBodyBytes = 64 << 10

// PingFunc checks that the store backend is reachable.
type PingFunc func(ctx context.Context) error

// Options configures the HTTP surface.
type Options struct {
	Service     string
	Version     string
	Environment string
	Backend     string   // reported by /health
	CORSOrigins []string // "*" allows any origin

	CreateRule ratelimit.Rule
	WatchRule  ratelimit.Rule
}

// Server routes HTTP requests to the gateway.
type Server struct {
	gateway *relay.Gateway
	watch   *ws.Server
	limiter *ratelimit.Limiter
	ping    PingFunc
	opts    Options
	log     zerolog.Logger
	started time.Time
	router  chi.Router
}

// New builds the router. watch, limiter and ping may be nil, which disables
// the status watch, rate limiting and the backend readiness check.
func New(gateway *relay.Gateway, watch *ws.Server, limiter *ratelimit.Limiter, ping PingFunc, opts Options, log zerolog.Logger) *Server {
	if opts.Service == "" {
		opts.Service = "session-relay"
	}
	s := &Server{
		gateway: gateway,
		watch:   watch,
		limiter: limiter,
		ping:    ping,
		opts:    opts,
		log:     log.With().Str("component", "http").Logger(),
		started: time.Now(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler())

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.With(s.rateLimit(s.opts.CreateRule)).Post("/", s.handleCreate)
		r.Get("/active", s.handleActive)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/status", s.handleStatus)
		r.Post("/{id}/redirect", s.handleForward)
		r.Post("/{id}/complete", s.handleComplete)
	})

	r.Get("/r/{id}", s.handleRedirect)
	r.With(s.rateLimit(s.opts.WatchRule)).Get("/ws/sessions/{id}", s.handleWatch)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	s.router = r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         600,
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
