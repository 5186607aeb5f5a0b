// Package ops serves read-only operational endpoints: health, metrics,
// recent errors, resource statistics, and breaker states. Every JSON
// response uses the data/error/meta envelope; endpoints whose backing
// component was never wired answer 404.
package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/leeforge/runtimekit/errors"
	"github.com/leeforge/runtimekit/lifecycle"
	"github.com/leeforge/runtimekit/logging"
	"github.com/leeforge/runtimekit/metrics"
	"github.com/leeforge/runtimekit/resilience"
)

// DefaultAddr is where the server listens when no address is configured.
const DefaultAddr = ":9180"

// Server is an embedded HTTP server for the operational surface.
type Server struct {
	addr   string
	logger logging.Logger

	collector *metrics.Collector
	health    *metrics.Aggregator
	errs      *apperrors.Handler
	resources *lifecycle.Manager
	breakers  *resilience.BreakerSet

	router chi.Router
	srv    *http.Server

	mu sync.Mutex
	ln net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCollector serves /metrics from c and feeds the request timer.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithHealth serves /healthz from a.
func WithHealth(a *metrics.Aggregator) Option {
	return func(s *Server) { s.health = a }
}

// WithErrorHandler serves /errors from h.
func WithErrorHandler(h *apperrors.Handler) Option {
	return func(s *Server) { s.errs = h }
}

// WithResources serves /resources from m.
func WithResources(m *lifecycle.Manager) Option {
	return func(s *Server) { s.resources = m }
}

// WithBreakers serves /breakers from set.
func WithBreakers(set *resilience.BreakerSet) Option {
	return func(s *Server) { s.breakers = set }
}

// New builds a Server listening on addr once started. An empty addr uses
// DefaultAddr.
func New(addr string, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:   addr,
		logger: logging.Global().Named("ops"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.timing)
	r.Use(logging.AccessLog(s.logger, logging.AccessLogOptions{
		SkipPaths: []string{"/healthz"},
	}))
	r.Use(logging.RecoveryMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Route("/metrics", func(r chi.Router) {
		r.Get("/", s.handleMetrics)
		r.Get("/prometheus", s.handlePrometheus)
	})
	r.Route("/errors", func(r chi.Router) {
		r.Get("/recent", s.handleRecentErrors)
		r.Get("/alerts", s.handleAlerts)
	})
	r.Get("/resources", s.handleResources)
	r.Get("/breakers", s.handleBreakers)

	return r
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr reports the bound address once Start has succeeded, the configured
// address before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Start binds the listener and begins serving in the background. Binding
// errors surface immediately; serve errors only log.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindConfiguration, "bind ops listener").
			WithComponent("ops").
			WithContext("addr", s.addr)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.KindOperationFailed, "shut down ops server")
	}
	return nil
}
