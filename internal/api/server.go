package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitwatch/internal/auth"
	"github.com/star/orbitwatch/internal/cache"
	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/clock"
	"github.com/star/orbitwatch/internal/health"
	"github.com/star/orbitwatch/internal/metrics"
	"github.com/star/orbitwatch/internal/risk"
	"github.com/star/orbitwatch/internal/snapshot"
	"github.com/star/orbitwatch/internal/tle"
)

// Engine is the part of the simulation driver the HTTP surface uses.
type Engine interface {
	Catalog() *catalog.Catalog
	Clock() clock.Reading
	Latest() *snapshot.Snapshot
	SetOffset(minutes float64) (clock.Reading, error)
	EvaluateRisk(ctx context.Context, horizon time.Duration, target string) (*risk.Report, error)
	LatestRisk() *risk.Report
	AddUserObject(name, line1, line2 string) (tle.ElementSet, error)
	Reload(ctx context.Context) (*catalog.LoadReport, error)
}

// Streamer serves the SSE snapshot stream.
type Streamer interface {
	HandleSnapshots(w http.ResponseWriter, r *http.Request)
	Active() int
}

// Deps are the components behind the routes. Stream may be nil.
type Deps struct {
	Engine         Engine
	History        *cache.History
	Stream         Streamer
	MaxRiskHorizon time.Duration // upper bound for ?horizon= (default 7 days)
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, authCfg, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Risk evaluations run inline; the stream clears its own deadline.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with the full middleware chain.
func NewHandler(logger *slog.Logger, authCfg auth.Config, deps Deps) http.Handler {
	if deps.MaxRiskHorizon <= 0 {
		deps.MaxRiskHorizon = 7 * 24 * time.Hour
	}
	h := &handlers{deps: deps, logger: logger}
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool { return deps.Engine.Catalog() != nil }))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/catalog", h.catalogSummary)
	mux.HandleFunc("GET /api/v1/catalog/{id}", h.catalogObject)
	mux.HandleFunc("POST /api/v1/catalog/reload", h.reload)
	mux.HandleFunc("POST /api/v1/objects", h.addObject)

	mux.HandleFunc("GET /api/v1/snapshot", h.latestSnapshot)
	mux.HandleFunc("GET /api/v1/snapshot/history", h.snapshotHistory)
	mux.HandleFunc("GET /api/v1/history/stats", h.historyStats)

	mux.HandleFunc("GET /api/v1/clock", h.clockReading)
	mux.HandleFunc("PUT /api/v1/clock/offset", h.setOffset)

	mux.HandleFunc("GET /api/v1/risk", h.riskReport)
	mux.HandleFunc("GET /api/v1/risk/latest", h.latestRisk)

	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/snapshots", deps.Stream.HandleSnapshots)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
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

// Flush passes through so the snapshot stream works behind the logger.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
