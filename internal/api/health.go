package api

// Probes:
//
//	/healthz  the process is up and has not hit a fatal error
//	/readyz   the server is accepting requests and the data root is usable
//	/livez    an engine has been attached
//
// Readiness is raised by Start and dropped by Stop. Logs are opened lazily,
// so becoming ready never waits on index recovery.

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
)

// HealthState is the probe state of one admin server.
type HealthState struct {
	ready   atomic.Bool
	live    atomic.Bool
	started time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// HealthCheck is an extra readiness check. A "fail" status makes /readyz
// answer 503.
type HealthCheck func(ctx context.Context) HealthCheckResult

// HealthCheckResult is one check's outcome. Status is pass, warn or fail.
type HealthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthState returns a live, not yet ready state.
func NewHealthState() *HealthState {
	h := &HealthState{started: time.Now(), checks: map[string]HealthCheck{}}
	h.live.Store(true)
	return h
}

func (h *HealthState) SetReady(ready bool) { h.ready.Store(ready) }
func (h *HealthState) SetLive(live bool)   { h.live.Store(live) }
func (h *HealthState) IsReady() bool       { return h.ready.Load() }
func (h *HealthState) IsLive() bool        { return h.live.Load() }

// Uptime is the time since the state was created.
func (h *HealthState) Uptime() time.Duration { return time.Since(h.started) }

// AddCheck registers check under name, replacing any earlier one.
func (h *HealthState) AddCheck(name string, check HealthCheck) {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

type probeResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Uptime    string                       `json:"uptime,omitempty"`
	Message   string                       `json:"message,omitempty"`
	Checks    map[string]HealthCheckResult `json:"checks,omitempty"`
	Store     *storeInfo                   `json:"store,omitempty"`
}

type storeInfo struct {
	Root     string `json:"root"`
	OpenLogs int    `json:"open_logs"`
}

func (s *Server) probe(w http.ResponseWriter, ok bool, resp probeResponse) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	code := http.StatusOK
	if ok {
		resp.Status = "pass"
		resp.Uptime = s.health.Uptime().String()
	} else {
		resp.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// handleHealthz never touches storage; disk trouble shows up in /readyz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsLive() {
		s.probe(w, false, probeResponse{Message: "daemon is not alive"})
		return
	}
	s.probe(w, true, probeResponse{})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	var resp probeResponse
	if !s.health.IsReady() {
		resp.Message = "daemon is not ready"
		if verbose {
			resp.Checks = s.runHealthChecks(r.Context())
		}
		s.probe(w, false, resp)
		return
	}

	checks := s.runHealthChecks(r.Context())
	ok := true
	for _, c := range checks {
		ok = ok && c.Status != "fail"
	}
	if verbose {
		resp.Checks = checks
		resp.Store = &storeInfo{Root: s.engine.Root(), OpenLogs: s.engine.OpenLogs()}
	}
	s.probe(w, ok, resp)
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.probe(w, false, probeResponse{Message: "store not yet initialized"})
		return
	}
	s.probe(w, true, probeResponse{})
}

// runHealthChecks runs the storage check and every registered check, timing
// each one.
func (s *Server) runHealthChecks(ctx context.Context) map[string]HealthCheckResult {
	s.health.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.health.checks)+1)
	for name, c := range s.health.checks {
		checks[name] = c
	}
	s.health.mu.RUnlock()
	checks["storage"] = s.checkStorageHealth

	results := make(map[string]HealthCheckResult, len(checks))
	for name, check := range checks {
		start := time.Now()
		res := check(ctx)
		res.Latency = time.Since(start).String()
		results[name] = res
	}
	return results
}

// checkStorageHealth fails when the data root has vanished or was replaced
// by something other than a directory.
func (s *Server) checkStorageHealth(ctx context.Context) HealthCheckResult {
	if s.engine == nil {
		return HealthCheckResult{Status: "fail", Message: "store not initialized"}
	}
	root := s.engine.Root()
	fi, err := os.Stat(root)
	switch {
	case err != nil:
		return HealthCheckResult{Status: "fail", Message: err.Error()}
	case !fi.IsDir():
		return HealthCheckResult{Status: "fail", Message: root + " is not a directory"}
	}
	return HealthCheckResult{
		Status:  "pass",
		Message: fmt.Sprintf("data root %s, %d logs open", root, s.engine.OpenLogs()),
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h := metrics.Handler()
	if h == nil {
		s.errorResponse(w, http.StatusNotFound, "metrics are not enabled")
		return
	}
	h.ServeHTTP(w, r)
}

// Build information, overridden with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	})
}
