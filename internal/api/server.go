// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the operator HTTP API over TCP and a unix socket.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/metrics"
	"grimm.is/pernet/internal/mptcp"
	"grimm.is/pernet/internal/netns"
	"grimm.is/pernet/internal/sysctl"
)

// ServerConfig holds HTTP server limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns the default server limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 16, // requests carry a name or a single value
	}
}

// ServerOptions holds the server's dependencies.
type ServerOptions struct {
	Subsystem  *netns.Subsystem
	Surface    *sysctl.Surface
	Controller *mptcp.Controller
	Stack      *mptcp.Stack // optional, reported by /healthz
	Metrics    *metrics.Registry
	Logger     *logging.Logger
	// AdminToken grants network admin rights to bearer requests; empty
	// disables token authentication.
	AdminToken string
	Config     *ServerConfig
}

// Server handles API requests.
type Server struct {
	subsys     *netns.Subsystem
	surface    *sysctl.Surface
	ctrl       *mptcp.Controller
	stack      *mptcp.Stack
	metrics    *metrics.Registry
	logger     *logging.Logger
	adminToken string
	cfg        *ServerConfig

	router *mux.Router

	mu      sync.Mutex
	servers []*http.Server
}

// NewServer creates an API server.
func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	s := &Server{
		subsys:     opts.Subsystem,
		surface:    opts.Surface,
		ctrl:       opts.Controller,
		stack:      opts.Stack,
		metrics:    opts.Metrics,
		logger:     logging.OrDefault(opts.Logger).WithComponent("api"),
		adminToken: opts.AdminToken,
		cfg:        cfg,
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	r := mux.NewRouter()
	s.router = r

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	RegisterNamespaceRoutes(v1, s)
}

// Handler returns the router wrapped in the request middleware.
// Chain: access log -> body limit -> credentials -> router.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.maxBodyMiddleware(s.cfg.MaxBodyBytes)(s.credentialsMiddleware(s.router)))
}

// Serve accepts connections on l until Shutdown. Unix socket peers are
// identified by their kernel credentials.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
		ConnContext:       connContext,
	}
	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()

	s.logger.Info("API server listening", "network", l.Addr().Network(), "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.KindUnavailable, "api server failed")
	}
	return nil
}

// Shutdown gracefully stops every listener started with Serve.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":      "ok",
		"initialized": s.ctrl.Initialized(),
		"namespaces":  len(s.subsys.List()),
		"host_id":     s.subsys.HostID(),
	}
	if s.stack != nil {
		var protos []string
		for _, p := range s.stack.Protocols() {
			protos = append(protos, p.Name)
		}
		status["protocols"] = protos
	}

	code := http.StatusOK
	if !s.ctrl.Initialized() {
		status["status"] = "starting"
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, status)
}

// loggingMiddleware logs every API request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/metrics" {
			return
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start).Round(time.Microsecond),
		}
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", args...)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", args...)
		default:
			s.logger.Debug("request", args...)
		}
	})
}

// maxBodyMiddleware limits the size of request bodies.
func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				respondWithError(w, http.StatusRequestEntityTooLarge, "request entity too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
