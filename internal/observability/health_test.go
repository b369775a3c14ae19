package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "interview-gateway", status.Service)
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") }

	t.Run("all healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler(map[string]HealthCheckFunc{"evaluator": ok, "session_store": ok})(
			rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		assert.Equal(t, "ready", status.Status)
		assert.Len(t, status.Dependencies, 2)
	})

	t.Run("one failing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ReadinessHandler(map[string]HealthCheckFunc{"evaluator": failing, "session_store": ok})(
			rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var status HealthStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		assert.Equal(t, "not_ready", status.Status)
		assert.Equal(t, "unhealthy", status.Dependencies["evaluator"].Status)
		assert.Equal(t, "connection refused", status.Dependencies["evaluator"].Message)
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInterviewStart()
		m.RecordSubmission("manual")
		m.RecordEvaluationEnd(true)
		m.RecordInterviewEnd("ended")
	})
}
