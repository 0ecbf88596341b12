package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/metrics"
	"github.com/Skryldev/car-service/repo"
)

var (
	_ db.MetricsCollector = (*metrics.Metrics)(nil)
	_ repo.UpsertObserver = (*metrics.Metrics)(nil)
)

func TestRecordQuery(t *testing.T) {
	m := metrics.New()
	m.RecordQuery("select", 5*time.Millisecond, true)
	m.RecordQuery("insert", time.Millisecond, false)

	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
}

func TestObserveUpsert(t *testing.T) {
	m := metrics.New()
	m.ObserveUpsert(repo.UpsertCreated)
	m.ObserveUpsert(repo.UpsertCreated)
	m.ObserveUpsert(repo.UpsertConflict)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpsertOutcomes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpsertOutcomes.WithLabelValues("conflict")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/cars/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cars/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/cars/{id}", "404")))
}

func TestHandler_Exposes(t *testing.T) {
	m := metrics.New()
	m.ObserveUpsert(repo.UpsertUpdated)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `cars_store_upsert_outcomes_total{outcome="updated"} 1`)
}
