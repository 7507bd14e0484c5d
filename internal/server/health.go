package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusUnavailable  = "unavailable"
)

// DefaultPingTimeout bounds the storage ping of a readiness probe.
const DefaultPingTimeout = 2 * time.Second

// Pinger is a dependency whose reachability gates readiness.
// storage.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	ready        atomic.Bool
	shuttingDown atomic.Bool
	storage      Pinger
	pingTimeout  time.Duration
	startTime    time.Time
}

// NewHealthChecker creates a HealthChecker that reports ready while storage
// answers pings. A nil storage is always considered reachable.
func NewHealthChecker(storage Pinger) *HealthChecker {
	h := &HealthChecker{
		storage:     storage,
		pingTimeout: DefaultPingTimeout,
		startTime:   time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// MarkShuttingDown makes readiness fail so load balancers drain the instance.
func (h *HealthChecker) MarkShuttingDown() {
	h.shuttingDown.Store(true)
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Uptime string            `json:"uptime,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// It only reports that the process is serving requests.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
// Readiness fails while the server is not ready, is shutting down, or
// cannot reach storage.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := h.checks(r.Context())

		status := http.StatusOK
		response := HealthResponse{Status: healthStatusOK, Checks: checks}
		for _, v := range checks {
			if v != healthStatusOK {
				status = http.StatusServiceUnavailable
				response.Status = healthStatusNotReady
				break
			}
		}
		writeHealth(w, status, response)
	})
}

func (h *HealthChecker) checks(ctx context.Context) map[string]string {
	checks := map[string]string{
		"ready":    healthStatusOK,
		"shutdown": healthStatusOK,
		"storage":  healthStatusOK,
	}
	if !h.ready.Load() {
		checks["ready"] = healthStatusNotReady
	}
	if h.shuttingDown.Load() {
		checks["shutdown"] = healthStatusShuttingDown
	}
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			checks["storage"] = healthStatusUnavailable
		}
	}
	return checks
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
}

func writeHealth(w http.ResponseWriter, status int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
