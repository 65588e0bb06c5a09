package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/pkg/core/config"
	"github.com/msto63/mediaprep/pkg/core/health"
	"github.com/msto63/mediaprep/pkg/core/logging"
	"github.com/msto63/mediaprep/pkg/core/version"
)

// Server is the mediaprep HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	health     *health.Registry
	logger     *logging.Logger
	config     Config
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int64
	CORS            config.CORSConfig
	Version         string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            5000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		MaxRequestBytes: 64 << 20,
		CORS:            config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
		Version:         version.API,
	}
}

// ConfigFrom converts the server section of the application config. Unset
// fields keep the DefaultConfig values.
func ConfigFrom(cfg config.ServerConfig) Config {
	out := DefaultConfig()
	if cfg.Host != "" {
		out.Host = cfg.Host
	}
	if cfg.Port != 0 {
		out.Port = cfg.Port
	}
	if cfg.ReadTimeout.Duration > 0 {
		out.ReadTimeout = cfg.ReadTimeout.Duration
	}
	if cfg.WriteTimeout.Duration > 0 {
		out.WriteTimeout = cfg.WriteTimeout.Duration
	}
	if cfg.MaxRequestBytes > 0 {
		out.MaxRequestBytes = cfg.MaxRequestBytes
	}
	out.CORS = cfg.CORS
	return out
}

// New creates a server. checks are added to the health registry next to
// the HTTP check.
func New(cfg Config, svc *service.Service, checks ...health.Checker) *Server {
	logger := logging.New("api-server")

	registry := health.NewRegistry("mediaprep", cfg.Version)
	registry.Register(health.AlwaysHealthy("http"))
	for _, c := range checks {
		registry.Register(c)
	}

	h := NewHandler(HandlerConfig{
		CORS:            cfg.CORS,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Version:         cfg.Version,
	}, svc, registry)
	wsHandler := NewWebSocketHandler(svc, cfg.MaxRequestBytes, originChecker(cfg.CORS))

	mux := http.NewServeMux()
	mux.Handle("/api/v1/ws", wsHandler)
	mux.Handle("/", h)

	handler := loggingMiddleware(logger, mux)

	return &Server{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		health:  registry,
		logger:  logger,
		config:  cfg,
	}
}

// originChecker accepts websocket origins allowed by the CORS settings.
// Without CORS only same-host origins pass.
func originChecker(cors config.CORSConfig) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if cors.Enabled {
			for _, o := range cors.AllowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
		}
		return strings.HasSuffix(strings.ToLower(origin), "://"+strings.ToLower(r.Host))
	}
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for websocket upgrades
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Handler returns the root handler including middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until the server is stopped. It returns nil after Stop.
func (s *Server) Start() error {
	s.logger.Info("Starting mediaprep server",
		"host", s.config.Host,
		"port", s.config.Port,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping mediaprep server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server address
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// HealthRegistry returns the health check registry
func (s *Server) HealthRegistry() *health.Registry {
	return s.health
}
