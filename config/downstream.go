package config

import "time"

// CompletionConfig contains configuration for the vLLM-compatible completion
// service used for prompt generation, validation, and failure reports.
type CompletionConfig struct {
	URL       string `env:"URL"        envDefault:"http://localhost:12000"`
	APIKey    string `env:"API_KEY"    envDefault:""`
	Model     string `env:"MODEL"      envDefault:"gpt-4-vision-preview"`
	MaxTokens int    `env:"MAX_TOKENS" envDefault:"4096"`

	// Timeout bounds a single completion call at the transport level.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

// Sanitize applies guardrails to completion configuration values.
func (c *CompletionConfig) Sanitize() {
	if c.MaxTokens < 1 {
		c.MaxTokens = 1
	}
	if c.Timeout < time.Second {
		c.Timeout = time.Second
	}
}

// RenderConfig contains configuration for the FLUX image-generation service.
type RenderConfig struct {
	URL string `env:"URL" envDefault:"http://localhost:8000"`

	// GuidanceScale is passed through to the generation backend.
	GuidanceScale float64 `env:"GUIDANCE_SCALE" envDefault:"2.5"`

	// Timeout bounds a single render call at the transport level.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"300s"`
}

// Sanitize applies guardrails to render configuration values.
func (r *RenderConfig) Sanitize() {
	if r.GuidanceScale <= 0 {
		r.GuidanceScale = 2.5
	}
	if r.Timeout < time.Second {
		r.Timeout = time.Second
	}
}
