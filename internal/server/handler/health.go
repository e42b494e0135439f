package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks connectivity of one backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process liveness and dependency readiness.
type HealthHandler struct {
	startTime time.Time
	deps      map[string]Pinger
}

// NewHealthHandler creates a health handler. deps maps a dependency name to
// its connectivity check; nil entries are skipped.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		deps:      deps,
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Time   time.Time         `json:"time"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
		Time:   time.Now().UTC(),
	}

	if len(h.deps) > 0 {
		resp.Checks = make(map[string]string, len(h.deps))
		for name, dep := range h.deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			} else {
				resp.Checks[name] = "ok"
			}
		}
	}

	writeJSON(w, status, resp)
}
