package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ml-serving-stack/internal/adapter/httpserver"
	"github.com/fairyhunter13/ml-serving-stack/internal/config"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{"https://a.example", []string{"https://a.example"}},
		{"https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
		{" , ", []string{"*"}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseOrigins(tc.in), tc.in)
	}
}

func testRouter() http.Handler {
	cfg := config.Config{
		StackVersion:     "2.1.0",
		APIToken:         "client-token",
		APITokenWorkers:  "worker-token",
		RateLimitPerMin:  120,
		CORSAllowOrigins: "*",
	}
	// Guarded routes reject before any service runs, so the facade can stay
	// empty here.
	srv := httpserver.NewServer(cfg, nil, nil, nil, nil, nil, nil)
	return BuildRouter(cfg, srv)
}

func TestRouterOpenEndpoints(t *testing.T) {
	router := testRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "2.1.0", out["Stack Version"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRequiresClientToken(t *testing.T) {
	router := testRouter()

	for _, path := range []string{"/inference", "/status", "/feedback", "/get_feedback"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"), path)
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "Acesso negado! Verifique as credenciais de acesso.", out["detail"], path)
	}
}

func TestRouterRequiresWorkerToken(t *testing.T) {
	router := testRouter()

	for _, path := range []string{"/attstatus", "/retorno"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer client-token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRouterRequestIDPropagated(t *testing.T) {
	router := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}
