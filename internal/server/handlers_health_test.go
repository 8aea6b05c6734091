package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(&mockService{})

	rec := doRequest(srv, http.MethodGet, "/health/live", "")
	require.Equal(t, 200, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleReadiness(t *testing.T) {
	srv := newTestServer(&mockService{})

	rec := doRequest(srv, http.MethodGet, "/health/ready", "")
	require.Equal(t, 200, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["status"])
	assert.Equal(t, float64(0), resp["active_sessions"])
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(&mockService{})

	rec := doRequest(srv, http.MethodGet, "/version", "")
	require.Equal(t, 200, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dev", resp["version"])
	assert.NotEmpty(t, resp["go_version"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockService{})

	rec := doRequest(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
