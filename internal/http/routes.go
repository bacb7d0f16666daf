package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/apexgen/jobmanager/internal/core"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Store          core.JobStore
	Orchestrator   JobController
	Completion     core.CompletionService
	Render         core.RenderService
	Cache          core.ResultCache
	CacheTTL       time.Duration
	MaxUploadBytes int64
	Logger         *slog.Logger // Optional
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{
		Store:          services.Store,
		Orchestrator:   services.Orchestrator,
		Cache:          services.Cache,
		CacheTTL:       services.CacheTTL,
		MaxUploadBytes: services.MaxUploadBytes,
		Logger:         services.Logger,
	}
	healthHandlers := &HealthHandlers{
		Store:      services.Store,
		Completion: services.Completion,
		Render:     services.Render,
	}

	registerJobRoutes(mux, jobHandlers)
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.Handle("GET /healthz", http.HandlerFunc(healthzHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthzHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Recover(logger)(Logging(logger)(mux))
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /jobs/{id}/result", h.GetResult)
	mux.HandleFunc("GET /jobs/{id}/report", h.GetReport)
	mux.HandleFunc("DELETE /jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /stats", h.Stats)
}
