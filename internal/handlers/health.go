package handlers

import (
	"net/http"
	"sync/atomic"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	ready atomic.Bool
}

// NewHealthHandlers constructs health handlers; readiness starts false.
func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{}
}

// SetReady flips the readiness state once wiring has completed.
func (h *HealthHandlers) SetReady(ready bool) {
	if h == nil {
		return
	}
	h.ready.Store(ready)
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the service can take traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, _ *http.Request) {
	if h == nil || !h.ready.Load() {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ready"})
}
