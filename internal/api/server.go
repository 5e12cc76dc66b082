package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/analysis"
	"github.com/JakeFAU/market-research-crawler/internal/config"
	"github.com/JakeFAU/market-research-crawler/internal/logging"
	"github.com/JakeFAU/market-research-crawler/internal/metrics"
	"github.com/JakeFAU/market-research-crawler/internal/pipeline"
	"github.com/JakeFAU/market-research-crawler/internal/policy/ratelimit"
)

// Client-facing messages. Internal error text never reaches a response
// except for analysis failures, which carry their own safe message.
const (
	msgInvalidDomain = "Please provide a valid domain."
	msgNothingFound  = "Could not fetch any pages from this domain. Please check the URL."
	msgUnexpected    = "An unexpected error occurred."
	msgTimeout       = "request timed out"
	msgRateLimited   = "too many requests"
)

const maxRequestBytes = 64 << 10

// Runner executes one analysis run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

// RequestIDGenerator mints per-request correlation IDs.
type RequestIDGenerator interface {
	NewRequestID() string
}

// ReadinessCheck reports whether a dependency is ready to serve.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the analysis pipeline.
type Server struct {
	router  chi.Router
	runner  Runner
	ids     RequestIDGenerator
	clock   pipeline.Clock
	limiter *ratelimit.Limiter
	trusted []netip.Prefix
	ready   []ReadinessCheck
	cfg     config.Config
	logger  *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck adds a check consulted by /readyz.
func WithReadinessCheck(check ReadinessCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.ready = append(s.ready, check)
		}
	}
}

// WithLimiter replaces the per-client limiter built from cfg.RateLimit.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// NewServer builds a chi router with middleware and routes.
func NewServer(
	runner Runner,
	ids RequestIDGenerator,
	clock pipeline.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	logger = logging.OrNop(logger)
	s := &Server{
		runner: runner,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	trusted, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		s.logger.Warn("ignoring trusted proxies", zap.Error(err))
	}
	s.trusted = trusted
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoverMiddleware,
		corsMiddleware(cfg.Server.CORSOrigins),
		metrics.Middleware,
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Group(func(scrape chi.Router) {
			if cfg.Auth.Enabled {
				scrape.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			if s.limiter != nil {
				scrape.Use(s.rateLimitMiddleware)
			}
			scrape.Use(deadlineMiddleware(cfg.Server.RequestTimeout))
			scrape.Post("/scrape", s.handleScrape)
		})
	})

	s.router = r
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().Format(pipeline.TimestampLayout),
	})
}

type scrapeRequest struct {
	Domain  json.RawMessage `json:"domain"`
	Profile string          `json:"profile"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidDomain)
		return
	}
	var domain string
	if len(body.Domain) == 0 || json.Unmarshal(body.Domain, &domain) != nil || domain == "" {
		writeError(w, http.StatusBadRequest, msgInvalidDomain)
		return
	}

	report, err := s.runner.Run(r.Context(), pipeline.Request{Domain: domain, Profile: body.Profile})
	if err != nil {
		status, msg := s.classify(err)
		logger := s.logger.With(zap.String("request_id", requestID(r.Context())), zap.String("domain", domain))
		if status >= http.StatusInternalServerError {
			logger.Error("analysis failed", zap.Int("status", status), zap.Error(err))
		} else {
			logger.Info("analysis rejected", zap.Int("status", status), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// classify maps a pipeline error to a status code and client message.
func (s *Server) classify(err error) (int, string) {
	var (
		exhausted *analysis.ExhaustedError
		recovery  *analysis.RecoveryError
	)
	switch {
	case errors.Is(err, pipeline.ErrInvalidDomain),
		errors.Is(err, pipeline.ErrBlockedDomain),
		errors.Is(err, pipeline.ErrUnknownProfile):
		return http.StatusBadRequest, msgInvalidDomain
	case errors.Is(err, pipeline.ErrNothingFound):
		return http.StatusUnprocessableEntity, msgNothingFound
	case errors.As(err, &recovery):
		return http.StatusInternalServerError, recovery.Error()
	case errors.As(err, &exhausted):
		return http.StatusInternalServerError, exhausted.Error()
	case errors.Is(err, analysis.ErrNoProviders):
		return http.StatusInternalServerError, analysis.ErrNoProviders.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msgTimeout
	default:
		return http.StatusInternalServerError, msgUnexpected
	}
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
