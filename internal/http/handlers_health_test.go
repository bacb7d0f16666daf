package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/data"
	"github.com/apexgen/jobmanager/internal/mocks"
)

// healthyProbe satisfies both downstream service interfaces and always
// reports healthy.
type healthyProbe struct{}

func (healthyProbe) Complete(context.Context, []core.ChatMessage) (string, error) {
	return "", nil
}

func (healthyProbe) Render(context.Context, []byte, string) ([]byte, error) {
	return nil, nil
}

func (healthyProbe) Healthy(context.Context) error { return nil }

type unhealthyProbe struct {
	healthyProbe
	err error
}

func (p unhealthyProbe) Healthy(context.Context) error { return p.err }

type healthResponse struct {
	Status   string            `json:"status"`
	Store    string            `json:"store"`
	Services map[string]string `json:"services"`
}

func newDurableStoreMock(t *testing.T, pingErr error) *mocks.MockJobStore {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)
	store.EXPECT().Ping(gomock.Any()).Return(pingErr).AnyTimes()
	store.EXPECT().Name().Return("postgres").AnyTimes()
	return store
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	healthzHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	healthzHandler(w, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHealth_AllHealthy(t *testing.T) {
	h := &HealthHandlers{
		Store:      newDurableStoreMock(t, nil),
		Completion: healthyProbe{},
		Render:     healthyProbe{},
	}

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "postgres", resp.Store)
	assert.Equal(t, map[string]string{
		"database":    "healthy",
		"vllm_server": "healthy",
		"flux_server": "healthy",
	}, resp.Services)
}

func TestHealth_InMemoryStoreReportsDegraded(t *testing.T) {
	h := &HealthHandlers{
		Store:      data.NewMemoryJobStore(data.MemoryJobStoreOptions{}),
		Completion: healthyProbe{},
		Render:     healthyProbe{},
	}

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "memory", resp.Store)
	assert.Equal(t, "degraded (in-memory)", resp.Services["database"])
	assert.Equal(t, "healthy", resp.Services["vllm_server"])
}

func TestHealth_DegradedStillAnswers200(t *testing.T) {
	h := &HealthHandlers{
		Store:      newDurableStoreMock(t, nil),
		Completion: unhealthyProbe{err: errors.New("connection refused")},
		Render:     healthyProbe{},
	}

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy: connection refused", resp.Services["vllm_server"])
	assert.Equal(t, "healthy", resp.Services["flux_server"])
	assert.Equal(t, "healthy", resp.Services["database"])
}
