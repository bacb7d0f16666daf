package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	services, err := ParseServices("http")
	require.NoError(t, err)
	assert.True(t, services[ServiceModeHTTP])
	assert.False(t, services[ServiceModeReaper])

	services, err = ParseServices("http, reaper")
	require.NoError(t, err)
	assert.True(t, services[ServiceModeHTTP])
	assert.True(t, services[ServiceModeReaper])

	_, err = ParseServices("")
	assert.Error(t, err)

	_, err = ParseServices("scheduler")
	assert.Error(t, err)

	_, err = ParseServices(" , ,")
	assert.Error(t, err)
}

func TestOrchestratorSanitize(t *testing.T) {
	cfg := OrchestratorConfig{
		MaxAttempts:     0,
		PromptTimeout:   120 * time.Second,
		RenderTimeout:   30 * time.Second,
		ValidateTimeout: 120 * time.Second,
		ReportTimeout:   time.Minute,
	}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Greater(t, cfg.RenderTimeout, cfg.PromptTimeout)
	assert.Greater(t, cfg.RenderTimeout, cfg.ValidateTimeout)
	assert.GreaterOrEqual(t, cfg.StoreRetryAttempts, 1)
	assert.GreaterOrEqual(t, cfg.StoreRetryBackoff, 10*time.Millisecond)
}

func TestReaperSanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, ProcessingMaxAge: time.Minute}
	cfg.Sanitize()

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 10*time.Minute, cfg.ProcessingMaxAge)
}

func TestAppConfigServiceHelpers(t *testing.T) {
	cfg := AppConfig{Services: "http,reaper"}
	assert.True(t, cfg.IsHTTPServerEnabled())
	assert.True(t, cfg.IsReaperEnabled())

	cfg.Services = "bogus"
	assert.False(t, cfg.IsHTTPServerEnabled())
	assert.False(t, cfg.IsReaperEnabled())
}
