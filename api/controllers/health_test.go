package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	healthy := pingerFunc(func(context.Context) error { return nil })

	handler := HealthReady(cfg, logg, map[string]Pinger{"postgres": healthy, "redis": healthy, "pubsub": nil})
	resp := httptest.NewRecorder()
	handler(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get("X-Bookswap-Env"))

	var body struct {
		Data struct {
			Dependencies []depStatus `json:"dependencies"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data.Dependencies, 2)
	assert.Equal(t, "postgres", body.Data.Dependencies[0].Name)
	assert.Equal(t, "redis", body.Data.Dependencies[1].Name)

	handler = HealthReady(cfg, logg, map[string]Pinger{
		"postgres": healthy,
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	resp = httptest.NewRecorder()
	handler(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "connection refused")
}
