package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgen/jobmanager/config"
	"github.com/apexgen/jobmanager/internal/data"
	httpx "github.com/apexgen/jobmanager/internal/http"
	"github.com/apexgen/jobmanager/internal/service"
)

// The orchestrator is what the router gets handed as its job controller.
var _ httpx.JobController = (*service.Orchestrator)(nil)

func testAppConfig() *config.AppConfig {
	cfg := &config.AppConfig{Services: "http,reaper"}
	cfg.Sanitize()
	return cfg
}

func TestValidateServiceConfig(t *testing.T) {
	require.NoError(t, ValidateServiceConfig(testAppConfig()))

	require.Error(t, ValidateServiceConfig(nil))

	bad := &config.AppConfig{Services: "http,warp-drive"}
	require.Error(t, ValidateServiceConfig(bad))
}

func TestGetEnabledServices(t *testing.T) {
	names := GetEnabledServices(testAppConfig())
	assert.ElementsMatch(t, []string{"http", "reaper"}, names)

	assert.Empty(t, GetEnabledServices(nil))
}

func TestNewServicesWiresEverything(t *testing.T) {
	services, err := NewServices(&ServiceDeps{
		Config: testAppConfig(),
		Store:  data.NewMemoryJobStore(data.MemoryJobStoreOptions{}),
		Cache:  data.NoopResultCache{},
	})
	require.NoError(t, err)

	assert.NotNil(t, services.Store)
	assert.NotNil(t, services.Cache)
	assert.NotNil(t, services.Completion)
	assert.NotNil(t, services.Render)
	assert.NotNil(t, services.Orchestrator)
	assert.NotNil(t, services.Reaper)

	require.NoError(t, services.Orchestrator.Shutdown(context.Background()))
}

func TestNewServicesRequiresConfig(t *testing.T) {
	_, err := NewServices(nil)
	require.Error(t, err)

	_, err = NewServices(&ServiceDeps{})
	require.Error(t, err)
}
