package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-decoder/internal/analyses"
	"label-decoder/internal/records"
	"label-decoder/internal/services/health"
	"label-decoder/internal/shared/config"
)

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", Addr(""))
	assert.Equal(t, ":9000", Addr("9000"))
	assert.Equal(t, ":9000", Addr(":9000"))
}

func TestHealthReportsChecks(t *testing.T) {
	hs := health.NewService()
	hs.Register("database", func(ctx context.Context) error { return errors.New("connection refused") })
	r := NewRouter(RouterDeps{Config: config.Config{Env: "dev"}, Health: hs})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "connection refused")
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewRouter(RouterDeps{Config: config.Config{Env: "dev"}})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), "# TYPE"))
}

func TestRateLimitAppliesToAPIRoutesNotHealth(t *testing.T) {
	handler := analyses.NewHandler(&analyses.Service{Repo: records.NewMemoryRepo()}, 0)
	r := NewRouter(RouterDeps{
		Config:          config.Config{Env: "dev", RateLimitRPS: 0.1, RateLimitBurst: 1},
		AnalysisHandler: handler,
	})

	codes := make([]int, 0, 12)
	for i := 0; i < 12; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[len(codes)-1])

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
