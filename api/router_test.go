package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/car-service/api"
	"github.com/Skryldev/car-service/metrics"
)

func TestHealthEndpoints(t *testing.T) {
	health := api.NewHealthRegistry(time.Second)
	health.RegisterLiveness("core", func(context.Context) error { return nil })
	health.RegisterReadiness("database", func(context.Context) error { return errors.New("connection refused") })
	health.RegisterReadiness("", func(context.Context) error { return nil })
	health.RegisterReadiness("nil", nil)

	h := api.NewRouter(api.RouterConfig{Repo: newTestRepo(t), Health: health})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var live api.ProbeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	assert.Equal(t, "ok", live.Status)
	assert.Equal(t, []api.HealthResult{{Name: "core"}}, live.Results)

	rec = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var ready api.ProbeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, []api.HealthResult{{Name: "database", Error: "connection refused"}}, ready.Results)
}

func TestRequestID(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get(api.RequestIDHeader))

	req, err := http.NewRequest(http.MethodGet, "/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(api.RequestIDHeader, "abc-123")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, "abc-123", rec2.Header().Get(api.RequestIDHeader))
}

func TestRequestIDFrom(t *testing.T) {
	assert.Empty(t, api.RequestIDFrom(context.Background()))
	ctx := api.WithRequestID(context.Background(), "id-1")
	assert.Equal(t, "id-1", api.RequestIDFrom(ctx))
	assert.Equal(t, context.Background(), api.WithRequestID(context.Background(), ""))
}

func TestOpenAPI(t *testing.T) {
	h := newTestRouter(t, "/api")

	rec := do(t, h, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc api.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	require.Contains(t, doc.Paths, "/api/cars")
	require.Contains(t, doc.Paths, "/api/cars/{id}")
	assert.Equal(t, "listCars", doc.Paths["/api/cars"].Get.OperationID)
	assert.Contains(t, doc.Paths["/api/cars/{id}"].Put.Responses, "409")
	assert.Contains(t, doc.Components.Schemas, "Car")

	rec = do(t, h, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &fromYAML))
	assert.Equal(t, "3.0.3", fromYAML["openapi"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	h := api.NewRouter(api.RouterConfig{Repo: newTestRepo(t), Metrics: m})

	do(t, h, http.MethodPost, "/cars", `{"make":"Jeep","price":1}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cars_http_requests_total")
}

func TestServer_StartStop(t *testing.T) {
	srv := api.NewServer(api.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, newTestRouter(t, ""))
	require.NoError(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	_, open := <-srv.Err()
	assert.False(t, open)
}

func TestServer_BindFailure(t *testing.T) {
	first := api.NewServer(api.ServerConfig{Addr: "127.0.0.1:0"}, http.NotFoundHandler())
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	second := api.NewServer(api.ServerConfig{Addr: first.Addr()}, http.NotFoundHandler())
	assert.Error(t, second.Start(context.Background()))
}
