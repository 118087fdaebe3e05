package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state.
// Readiness is true only after recovery completes and every registered
// dependency reports healthy.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.RWMutex
	probes map[string]func() error
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		probes:    make(map[string]func() error),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// AddProbe registers a dependency check consulted by the readiness handler.
func (h *HealthChecker) AddProbe(name string, probe func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	ok, _ := h.check()
	return ok
}

func (h *HealthChecker) check() (bool, map[string]string) {
	failures := make(map[string]string)
	if !h.ready.Load() {
		failures["recovery"] = "in progress"
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, probe := range h.probes {
		if err := probe(); err != nil {
			failures[name] = err.Error()
		}
	}
	return len(failures) == 0, failures
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ok, failures := h.check()
	if ok {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "not_ready",
		"failures": failures,
	})
}
