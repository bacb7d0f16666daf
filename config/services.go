package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server and the in-process orchestrator.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeReaper runs the stuck-job reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// OrchestratorConfig contains the attempt-loop configuration.
type OrchestratorConfig struct {
	// MaxAttempts is the attempt budget per job.
	MaxAttempts int `env:"ORCHESTRATOR_MAX_ATTEMPTS" envDefault:"3"`

	// PromptTimeout bounds a single prompt-generation call.
	PromptTimeout time.Duration `env:"ORCHESTRATOR_PROMPT_TIMEOUT" envDefault:"120s"`

	// RenderTimeout bounds a single render call. Rendering is the heaviest
	// step, so this must exceed the prompt and validation timeouts.
	RenderTimeout time.Duration `env:"ORCHESTRATOR_RENDER_TIMEOUT" envDefault:"300s"`

	// ValidateTimeout bounds a single validation call.
	ValidateTimeout time.Duration `env:"ORCHESTRATOR_VALIDATE_TIMEOUT" envDefault:"120s"`

	// ReportTimeout bounds the failure-report generation call.
	ReportTimeout time.Duration `env:"ORCHESTRATOR_REPORT_TIMEOUT" envDefault:"120s"`

	// StoreRetryAttempts is how many times a terminal status write is retried
	// before giving up.
	StoreRetryAttempts int `env:"ORCHESTRATOR_STORE_RETRY_ATTEMPTS" envDefault:"3"`

	// StoreRetryBackoff is the initial backoff between terminal-write retries.
	// The backoff doubles after each failure.
	StoreRetryBackoff time.Duration `env:"ORCHESTRATOR_STORE_RETRY_BACKOFF" envDefault:"250ms"`
}

// Sanitize applies guardrails to orchestrator configuration values.
func (o *OrchestratorConfig) Sanitize() {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.PromptTimeout < time.Second {
		o.PromptTimeout = time.Second
	}
	if o.ValidateTimeout < time.Second {
		o.ValidateTimeout = time.Second
	}
	if o.ReportTimeout < time.Second {
		o.ReportTimeout = time.Second
	}
	// Keep the render timeout strictly the longest per-step budget.
	if o.RenderTimeout <= o.PromptTimeout {
		o.RenderTimeout = o.PromptTimeout + time.Second
	}
	if o.RenderTimeout <= o.ValidateTimeout {
		o.RenderTimeout = o.ValidateTimeout + time.Second
	}
	if o.StoreRetryAttempts < 1 {
		o.StoreRetryAttempts = 1
	}
	if o.StoreRetryBackoff < 10*time.Millisecond {
		o.StoreRetryBackoff = 10 * time.Millisecond
	}
}

// ReaperConfig contains stuck-job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// ProcessingMaxAge is how long a processing job may go without an update
	// before the reaper re-fails it. Must comfortably exceed the worst-case
	// duration of a full attempt, otherwise live jobs get reaped.
	ProcessingMaxAge time.Duration `env:"REAPER_PROCESSING_MAX_AGE" envDefault:"1h"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.ProcessingMaxAge < 10*time.Minute {
		r.ProcessingMaxAge = 10 * time.Minute
	}
}
