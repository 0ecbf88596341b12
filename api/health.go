package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthCheck represents a liveness or readiness probe.
type HealthCheck func(context.Context) error

// HealthRegistry stores registered probes and exposes HTTP handlers.
type HealthRegistry struct {
	mu        sync.RWMutex
	liveness  map[string]HealthCheck
	readiness map[string]HealthCheck
	timeout   time.Duration
}

// NewHealthRegistry constructs an empty registry. Each probe run is bounded
// by timeout; zero means two seconds.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthRegistry{
		liveness:  map[string]HealthCheck{},
		readiness: map[string]HealthCheck{},
		timeout:   timeout,
	}
}

// RegisterLiveness adds a liveness probe under the provided name.
func (hr *HealthRegistry) RegisterLiveness(name string, check HealthCheck) {
	if check == nil || name == "" {
		return
	}
	hr.mu.Lock()
	hr.liveness[name] = check
	hr.mu.Unlock()
}

// RegisterReadiness adds a readiness probe under the provided name.
func (hr *HealthRegistry) RegisterReadiness(name string, check HealthCheck) {
	if check == nil || name == "" {
		return
	}
	hr.mu.Lock()
	hr.readiness[name] = check
	hr.mu.Unlock()
}

// RegisterHealthEndpoints mounts /healthz and /readyz.
func RegisterHealthEndpoints(r chi.Router, registry *HealthRegistry) {
	if registry == nil {
		registry = NewHealthRegistry(0)
	}
	r.Get("/healthz", registry.handler(func() map[string]HealthCheck { return registry.liveness }))
	r.Get("/readyz", registry.handler(func() map[string]HealthCheck { return registry.readiness }))
}

// HealthResult is the outcome of one probe.
type HealthResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// ProbeResponse is the body of /healthz and /readyz.
type ProbeResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Results   []HealthResult `json:"results"`
}

func (hr *HealthRegistry) handler(checks func() map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hr.mu.RLock()
		snapshot := make(map[string]HealthCheck, len(checks()))
		for name, check := range checks() {
			snapshot[name] = check
		}
		hr.mu.RUnlock()

		ctx, cancel := context.WithTimeout(r.Context(), hr.timeout)
		defer cancel()

		summary := runChecks(ctx, snapshot)
		status := http.StatusOK
		if summary.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(summary)
	}
}

func runChecks(ctx context.Context, checks map[string]HealthCheck) ProbeResponse {
	results := make([]HealthResult, 0, len(checks))
	status := "ok"
	for name, check := range checks {
		result := HealthResult{Name: name}
		if err := check(ctx); err != nil {
			result.Error = err.Error()
			status = "degraded"
		}
		results = append(results, result)
	}
	slices.SortFunc(results, func(a, b HealthResult) int { return strings.Compare(a.Name, b.Name) })

	return ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Results:   results,
	}
}
