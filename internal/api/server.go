package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/eopsmooth/internal/auth"
	"github.com/star/eopsmooth/internal/health"
	"github.com/star/eopsmooth/internal/httputil"
	"github.com/star/eopsmooth/internal/metrics"
)

// Options configures the HTTP surface.
type Options struct {
	Auth       auth.Config
	TrustProxy bool // take client IPs from X-Forwarded-For / X-Real-IP

	// MaxInflightPerIP bounds concurrent ephemeris state requests per client.
	// A cache miss blocks every other query until the build finishes.
	MaxInflightPerIP int
}

const defaultMaxInflightPerIP = 4

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. states may be nil when no
// ephemeris sampler is configured; its endpoints then answer 503.
func NewServer(addr string, eop EOPSource, states StateSource, opts Options, logger *slog.Logger) *Server {
	if opts.MaxInflightPerIP <= 0 {
		opts.MaxInflightPerIP = defaultMaxInflightPerIP
	}
	limiter := newInflightLimiter(opts.MaxInflightPerIP)

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(eop.IsInitialized))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/eop", eopHandler(eop))
	mux.HandleFunc("GET /api/v1/ephemeris/state", stateHandler(states, limiter, opts.TrustProxy, logger))
	mux.HandleFunc("GET /api/v1/ephemeris/stats", statsHandler(states))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth)(handler)
	handler = loggingMiddleware(logger, opts.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second, // cache misses build synchronously
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
