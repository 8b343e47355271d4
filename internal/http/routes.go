package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Jobs   JobService
	Health map[string]HealthChecker
	Logger *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs, Logger: logger}
	healthHandlers := &HealthHandlers{Checks: services.Health}

	mux.HandleFunc("POST /api/jobs", jobHandlers.SubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandlers.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", jobHandlers.CancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", jobHandlers.StreamJobEvents)
	mux.HandleFunc("POST /api/jobs/resume", jobHandlers.ResumeJobs)
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("HEAD /health", healthHandlers.Health)

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
