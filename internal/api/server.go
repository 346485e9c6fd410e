package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soochol/tsupgrade/internal/services"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// Runner executes a run under a deadline.
type Runner interface {
	Run(ctx context.Context, p tsupgrade.RunParams) (services.Outcome, error)
}

// StatusReader looks up recorded runs.
type StatusReader interface {
	Get(ctx context.Context, runID, owner string) (*tsupgrade.RunRecord, error)
}

type Server struct {
	runner    Runner
	status    StatusReader
	limiter   *services.ConcurrencyLimiter
	gatherer  prometheus.Gatherer
	jwtSecret []byte
	rateLimit int
	tracing   func(http.Handler) http.Handler
}

func NewServer(runner Runner, status StatusReader) *Server {
	return &Server{runner: runner, status: status}
}

// SetConcurrencyLimiter exposes the limiter's counters on /api/stats.
func (s *Server) SetConcurrencyLimiter(limiter *services.ConcurrencyLimiter) {
	s.limiter = limiter
}

// SetGatherer serves g on /metrics instead of the default registry.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

// SetJWTSecret requires an HS256 bearer token signed with secret on /api.
func (s *Server) SetJWTSecret(secret string) {
	s.jwtSecret = []byte(secret)
}

// SetRateLimit limits run requests per client IP per minute.
func (s *Server) SetRateLimit(perMinute int) {
	s.rateLimit = perMinute
}

// SetTracing wraps the router with a tracing middleware.
func (s *Server) SetTracing(mw func(http.Handler) http.Handler) {
	s.tracing = mw
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Route("/api", func(r chi.Router) {
		if len(s.jwtSecret) > 0 {
			r.Use(requireBearer(s.jwtSecret))
		}
		r.Get("/stats", s.getRunStats)
		r.Route("/runs", func(r chi.Router) {
			r.With(s.rateLimiter()).Post("/", s.startRun)
			r.Get("/{runID}", s.getRun)
		})
	})

	if s.tracing != nil {
		return s.tracing(r)
	}
	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

func (s *Server) rateLimiter() func(http.Handler) http.Handler {
	if s.rateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(s.rateLimit, time.Minute)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
