package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-component readiness. The service
// is ready once every registered component has reported ready.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]bool
	startTime  time.Time
}

func NewHealthChecker(components ...string) *HealthChecker {
	h := &HealthChecker{
		components: make(map[string]bool, len(components)),
		startTime:  time.Now(),
	}
	for _, c := range components {
		h.components[c] = false
	}
	return h
}

// SetComponentReady records a component's readiness (e.g. "postgres",
// "nats", "replay").
func (h *HealthChecker) SetComponentReady(component string, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[component] = ready
}

// SetReady flips every component at once.
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.components {
		h.components[c] = ready
	}
	if len(h.components) == 0 {
		h.components["service"] = ready
	}
}

func (h *HealthChecker) IsReady() bool {
	ready, _ := h.status()
	return ready
}

func (h *HealthChecker) status() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var pending []string
	for c, ok := range h.components {
		if !ok {
			pending = append(pending, c)
		}
	}
	sort.Strings(pending)
	return len(pending) == 0 && len(h.components) > 0, pending
}

// LivenessHandler returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once ready, 503 with the pending
// components otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready, pending := h.status()
	if ready {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
