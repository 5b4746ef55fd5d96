package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the payload served on the health endpoint
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Time   time.Time         `json:"time"`
}

// HealthChecker runs readiness checks against backing services
type HealthChecker struct {
	db      *sql.DB
	timeout time.Duration
}

// NewHealthChecker creates a health checker. db may be nil when the process
// runs without a database (some tests).
func NewHealthChecker(db *sql.DB) *HealthChecker {
	return &HealthChecker{db: db, timeout: 2 * time.Second}
}

// Check runs all checks and reports overall status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status: "ok",
		Checks: map[string]string{},
		Time:   time.Now().UTC(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
		} else {
			status.Checks["database"] = "ok"
		}
	}

	return status
}

// Handler serves the health status as JSON. Returns 503 when degraded so
// orchestrator probes fail the pod.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
}
