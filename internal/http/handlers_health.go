package httpx

import (
	"context"
	"net/http"
)

// HealthChecker reports whether one backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandlers serves readiness checks over the backing stores.
type HealthHandlers struct {
	// Checks maps a dependency name to its checker. Nil checkers are skipped.
	Checks map[string]HealthChecker
}

// Health handles GET /health. Any failing dependency turns the response into
// a 503 with per-dependency detail.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	detail := make(map[string]string, len(h.Checks))

	for name, check := range h.Checks {
		if check == nil {
			continue
		}
		if err := check.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			detail[name] = err.Error()
			continue
		}
		detail[name] = "ok"
	}

	body := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(detail) > 0 {
		body["checks"] = detail
	}
	WriteJSON(w, status, body)
}
