package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus Status
	}{
		{"healthy", nil, http.StatusOK, StatusOK},
		{"degraded", ErrDegraded, http.StatusOK, StatusDegraded},
		{"down", errors.New("boom"), http.StatusServiceUnavailable, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(testLogger())
			manager.Register(&mockChecker{name: "test", err: tt.err})
			handler := NewHandler(manager)

			rr := httptest.NewRecorder()
			handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

			var response Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.wantStatus, response.Status)
			assert.NotEmpty(t, response.Version)
			assert.NotEmpty(t, response.Uptime)
			assert.Contains(t, response.Checks, "test")
		})
	}
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "test"})
	handler := NewHandler(manager)

	// Nothing has been checked yet.
	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	manager.RunChecks(context.Background())
	rr = httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var response probeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, string(StatusOK), response.Status)
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(testLogger()))

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var response probeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "alive", response.Status)
}

func TestGetUptime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{45 * time.Second, "45 seconds"},
		{2*time.Minute + 30*time.Second, "2 minutes 30 seconds"},
		{3*time.Hour + 45*time.Second, "3 hours 45 seconds"},
		{2*24*time.Hour + 6*time.Hour + 30*time.Minute + 15*time.Second, "2 days 6 hours 30 minutes 15 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			handler := &Handler{startTime: time.Now().Add(-tt.duration)}
			assert.Equal(t, tt.expected, handler.getUptime())
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1 day 1 hour 1 minute 1 second", formatDuration(1, 1, 1, 1))
	assert.Equal(t, "3 days", formatDuration(3, 0, 0, 0))
	assert.Equal(t, "0 seconds", formatDuration(0, 0, 0, 0))
}
