// =============================================================================
// ADMIN HTTP API - READ-ONLY WINDOW INTO THE LOG STORE
// =============================================================================
//
// The daemon's record traffic does not go through HTTP. This server exists
// for operators: probes, Prometheus scraping and inspecting logs without
// stopping the daemon.
//
// ENDPOINT OVERVIEW:
//
//   PROBES
//   GET    /healthz                      Liveness
//   GET    /readyz                       Readiness (?verbose=true for checks)
//   GET    /livez                        Startup
//   GET    /version                      Build information
//   GET    /metrics                      Prometheus exposition
//
//   LOGS
//   GET    /logs                         List every log under the data root
//   GET    /logs/{name}                  Stats and metadata of one log
//   GET    /logs/{name}/records/{recno}  One record, payload base64-encoded
//   GET    /logs/{name}/at?time=T        Record number in effect at time T
//
// {name} may be the printable name, 64 hex digits or a human-readable name,
// exactly as accepted by the checker.
//
// Every handler opens the log for reading and closes it again before
// returning, so the API holds no handles between requests.
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// =============================================================================
// API SERVER
// =============================================================================

// Engine is the part of the log store the API serves. *storage.Store
// implements it.
type Engine interface {
	Open(name storage.Name, mode storage.OpenMode) (storage.LogHandle, error)
	Close(h storage.LogHandle) error
	ForEachLog(visit func(storage.Name) error) error
	OpenLogs() int
	Root() string
}

// Server is the admin HTTP server of gdplogd.
type Server struct {
	engine     Engine
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	health     *HealthState
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server. A nil logger discards output.
func NewServer(engine Engine, config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(nopWriter{}, nil))
	}

	r := chi.NewRouter()

	s := &Server{
		engine: engine,
		router: r,
		logger: logger.With("component", "api"),
		health: NewHealthState(),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Health returns the probe state the daemon flips during startup and
// shutdown.
func (s *Server) Health() *HealthState {
	return s.health
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/livez", s.handleLivez)
	s.router.Get("/version", s.handleVersion)
	s.router.Get("/metrics", s.handleMetrics)

	s.router.Route("/logs", func(r chi.Router) {
		r.Get("/", s.listLogs)

		r.Route("/{logName}", func(r chi.Router) {
			r.Get("/", s.getLog)
			r.Get("/records/{recno}", s.getRecord)
			r.Get("/at", s.findByTime)
		})
	})
}

// loggingMiddleware logs every request and feeds the API metrics. The
// route label is the chi pattern so that log names do not explode the
// label space.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var api *metrics.APIMetrics
		if reg := metrics.Get(); reg != nil {
			api = reg.API
		}
		api.AddInFlight(1)
		defer api.AddInFlight(-1)

		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		api.RecordRequest(route, wrapped.status, elapsed.Seconds())

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", wrapped.status,
			"duration", elapsed.String(),
		)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Start binds the listen address and serves in the background. Binding
// errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("starting admin API server", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin API server error", "error", err)
		}
	}()
	s.health.SetReady(true)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down admin API server")
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

// storageError maps an engine error onto an HTTP status.
//
//   ErrNotFound, ErrRecordMissing   404
//   ErrRecordExpired                410
//   ErrMethodNotAllowed             501
//   ErrLogClosed                    503
//   everything else                 500
func (s *Server) storageError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrRecordMissing):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrRecordExpired):
		status = http.StatusGone
	case errors.Is(err, storage.ErrMethodNotAllowed):
		status = http.StatusNotImplemented
	case errors.Is(err, storage.ErrLogClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("storage error", "error", err)
	}
	s.errorResponse(w, status, err.Error())
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
