package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is anything that can verify its own backing resource, such as
// the credential store.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the readiness probe response body.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus reports one dependency's health.
type DependencyStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthChecker serves liveness and readiness probes. Dependencies are
// registered by name.
type HealthChecker struct {
	deps map[string]Pinger
}

// NewHealthChecker creates a checker over the credential store;
// additional dependencies can be added with Register.
func NewHealthChecker(store Pinger) *HealthChecker {
	h := &HealthChecker{deps: make(map[string]Pinger)}
	if store != nil {
		h.deps["store"] = store
	}
	return h
}

// Register adds a named dependency to the readiness check.
func (h *HealthChecker) Register(name string, dep Pinger) {
	h.deps[name] = dep
}

// Liveness always returns 200 while the process is running.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness checks every registered dependency and returns 503 when any
// is unreachable.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check pings every dependency.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]DependencyStatus),
	}

	for name, dep := range h.deps {
		start := time.Now()
		err := dep.HealthCheck(ctx)
		ds := DependencyStatus{
			Status:  StatusHealthy,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			ds.Status = StatusUnhealthy
			ds.Message = err.Error()
			status.Status = StatusUnhealthy
		}
		status.Dependencies[name] = ds
	}

	return status
}
