package server

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

type fakeStore struct{ err error }

func (s fakeStore) Ping(context.Context) error { return s.err }

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLivenessAlwaysOK(t *testing.T) {
	h := NewHealthChecker(nil, "")
	h.SetReady(false)
	rec, body := serve(t, h.LivenessHandler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		notReady   bool
		shutdown   bool
		wantStatus int
		wantChecks map[string]any
	}{
		{
			name:       "all ok",
			wantStatus: http.StatusOK,
			wantChecks: map[string]any{"ready": "ok", "shutdown": "ok", "store": "ok"},
		},
		{
			name:       "store down",
			storeErr:   errors.New("connection refused"),
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]any{"ready": "ok", "shutdown": "ok", "store": "unavailable"},
		},
		{
			name:       "not ready",
			notReady:   true,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]any{"ready": "not ready", "shutdown": "ok", "store": "ok"},
		},
		{
			name:       "shutting down",
			shutdown:   true,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]any{"ready": "ok", "shutdown": "shutting down", "store": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewServerContext(context.Background(), Config{Store: fakeStore{err: tt.storeErr}})
			h := NewHealthChecker(sc, "1.2.3")
			h.SetReady(!tt.notReady)
			if tt.shutdown {
				require.NoError(t, sc.Shutdown())
			}

			rec, body := serve(t, h.ReadinessHandler(), "/readyz")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantChecks, body["checks"])
		})
	}
}

func TestDetailedHealth(t *testing.T) {
	sc := NewServerContext(context.Background(), Config{Store: fakeStore{}})
	h := NewHealthChecker(sc, "1.2.3")

	rec, body := serve(t, h.DetailedHealthHandler(), "/healthz/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.NotEmpty(t, body["uptime"])

	require.NoError(t, sc.Shutdown())
	rec, body = serve(t, h.DetailedHealthHandler(), "/healthz/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting down", body["status"])
}
