package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	serviceName    = "interview-gateway"
	serviceVersion = "1.0.0"
	readyTimeout   = 5 * time.Second
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthCheckFunc checks one dependency. It must respect ctx cancellation.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck is a named dependency check
type HealthCheck struct {
	Name  string
	Check HealthCheckFunc
}

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   serviceVersion,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler runs every check concurrently and reports 503 if any fails
func ReadinessHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		dependencies := RunChecks(ctx, checks)

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      serviceVersion,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		for _, dep := range dependencies {
			if dep.Status != "healthy" {
				status.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}

		writeStatus(w, code, status)
	}
}

// RunChecks checks all dependencies in parallel. A failing check never cancels the others.
func RunChecks(ctx context.Context, checks []HealthCheck) map[string]DependencyStatus {
	var (
		mu      sync.Mutex
		results = make(map[string]DependencyStatus, len(checks))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, hc := range checks {
		if hc.Check == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := hc.Check(gctx)

			dep := DependencyStatus{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				dep.Status = "unhealthy"
				dep.Message = err.Error()
			}

			mu.Lock()
			results[hc.Name] = dep
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// CheckNames returns the sorted dependency names, used for startup logging
func CheckNames(checks []HealthCheck) []string {
	names := make([]string, 0, len(checks))
	for _, hc := range checks {
		names = append(names, hc.Name)
	}
	sort.Strings(names)
	return names
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
