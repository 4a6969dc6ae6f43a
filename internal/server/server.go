// Package server serves a trace backend over HTTP: the trace procedures as
// connect handlers, probes, and Prometheus metrics.
package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"weavequery/internal/logging"
	"weavequery/internal/metrics"
	"weavequery/internal/traceapi"
)

// Config holds server configuration.
type Config struct {
	// Logger for structured logging.
	Logger *slog.Logger
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Metrics records per-procedure request counts and latencies.
	Metrics *metrics.Metrics
	// RateLimit is the per-client request rate on trace procedures.
	// Zero disables limiting.
	RateLimit rate.Limit
	// Burst is the per-client burst. Defaults to 1 when limiting.
	Burst int
	// TLS enables HTTPS with this config. Nil serves plain HTTP and h2c.
	TLS *tls.Config
}

// Server serves a traceapi.Service.
type Server struct {
	svc     traceapi.Service
	cfg     Config
	limiter *clientLimiters
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	cancel   context.CancelFunc // stops background work started by Serve
	bgWG     sync.WaitGroup

	inFlight sync.WaitGroup
	draining atomic.Bool
}

// New creates a new Server.
func New(svc traceapi.Service, cfg Config) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "server"),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiters(cfg.RateLimit, max(cfg.Burst, 1))
	}
	return s
}

// registerProbes adds liveness and readiness probe endpoints.
func (s *Server) registerProbes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// trackingMiddleware wraps an http.Handler to track in-flight requests.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// metricsInterceptor records one sample per unary call.
func (s *Server) metricsInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			status := "ok"
			if err != nil {
				status = connect.CodeOf(err).String()
			}
			s.cfg.Metrics.Request(req.Spec().Procedure, status, time.Since(start))
			return resp, err
		}
	}
}

// buildMux creates a ServeMux with the trace procedures, probes and metrics.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	traceapi.Register(mux, s.svc, connect.WithInterceptors(s.metricsInterceptor()))
	s.registerProbes(mux)
	if s.cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the full handler chain: tracking, rate limiting,
// compression and h2c.
func (s *Server) Handler() http.Handler {
	var h http.Handler = compressMiddleware(s.buildMux())
	if s.limiter != nil {
		h = limitTraceProcedures(s.limiter)(h)
	}
	h = s.trackingMiddleware(h)
	return h2c.NewHandler(h, &http2.Server{})
}

// Serve starts the server on the given listener.
// It blocks until the server is stopped or an error occurs.
func (s *Server) Serve(listener net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.cfg.TLS,
	}
	s.cancel = cancel
	srv := s.server
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.runEviction(ctx, &s.bgWG, time.Minute, 10*time.Minute)
	}

	s.logger.Info("server starting", "addr", listener.Addr().String(), "tls", s.cfg.TLS != nil)

	var err error
	if s.cfg.TLS != nil {
		err = srv.ServeTLS(listener, "", "")
	} else {
		err = srv.Serve(listener)
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP listens on addr and serves.
func (s *Server) ServeTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests and stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	cancel := s.cancel
	s.server = nil
	s.cancel = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.logger.Info("server stopping")
	s.draining.Store(true)
	err := server.Shutdown(ctx)
	cancel()
	s.bgWG.Wait()
	s.inFlight.Wait()
	return err
}
