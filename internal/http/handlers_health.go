package httpx

import (
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/apexgen/jobmanager/internal/core"
)

const healthzResponse = `{"status":"ok"}`

// healthzHandler returns a simple 200 OK status for readiness/liveness checks.
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthzResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// HealthHandlers reports per-dependency health for the full /health view.
type HealthHandlers struct {
	Store      core.JobStore
	Completion core.CompletionService
	Render     core.RenderService
}

// Health probes the job store and both downstream services concurrently and
// reports a per-service map. The endpoint itself always answers 200; callers
// inspect the status field.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	services := make(map[string]string)

	set := func(name, state string) {
		mu.Lock()
		defer mu.Unlock()
		services[name] = state
	}
	record := func(name string, err error) {
		if err != nil {
			set(name, "unhealthy: "+err.Error())
			return
		}
		set(name, "healthy")
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		// The in-memory fallback store always answers its own ping; surface
		// it as degraded so operators can tell records are not durable.
		if err := h.Store.Ping(ctx); err != nil {
			set("database", "unhealthy: "+err.Error())
		} else if h.Store.Name() == "memory" {
			set("database", "degraded (in-memory)")
		} else {
			set("database", "healthy")
		}
		return nil
	})
	g.Go(func() error {
		record("vllm_server", h.Completion.Healthy(ctx))
		return nil
	})
	g.Go(func() error {
		record("flux_server", h.Render.Healthy(ctx))
		return nil
	})
	_ = g.Wait()

	overall := "healthy"
	for _, state := range services {
		if state != "healthy" {
			overall = "degraded"
			break
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":   overall,
		"store":    h.Store.Name(),
		"services": services,
	})
}
