package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs the /healthz and /readyz probe endpoints. Readiness
// starts false and is flipped once startup wiring completes.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// SetReady flips the readiness gate.
func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the current readiness gate.
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

type probeReply struct {
	Status string `json:"status"`
	Uptime string `json:"uptime,omitempty"`
}

// LivenessHandler answers 200 whenever the process can serve requests.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeProbeReply(w, http.StatusOK, probeReply{
		Status: "alive",
		Uptime: time.Since(h.started).String(),
	})
}

// ReadinessHandler answers 200 once migrations have run and the NATS and
// engine wiring is live; 503 until then.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if h.ready.Load() {
		writeProbeReply(w, http.StatusOK, probeReply{Status: "ready"})
		return
	}
	writeProbeReply(w, http.StatusServiceUnavailable, probeReply{Status: "not_ready"})
}

func writeProbeReply(w http.ResponseWriter, code int, reply probeReply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(reply)
}
