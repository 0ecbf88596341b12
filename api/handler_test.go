package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/car-service/api"
	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/migrations"
	"github.com/Skryldev/car-service/models"
	"github.com/Skryldev/car-service/repo"

	_ "github.com/mattn/go-sqlite3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Setup
// ─────────────────────────────────────────────────────────────────────────────

func newTestRepo(t *testing.T) repo.CarRepository {
	t.Helper()

	database, err := db.Open(db.Config{
		DSN:          ":memory:",
		DriverName:   "sqlite3",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	scripts, err := migrations.UpScripts("sqlite3")
	require.NoError(t, err)
	for _, s := range scripts {
		_, err := database.Exec(context.Background(), s)
		require.NoError(t, err)
	}
	return repo.NewCarRepo(database)
}

func newTestRouter(t *testing.T, basePath string) http.Handler {
	t.Helper()
	return api.NewRouter(api.RouterConfig{Repo: newTestRepo(t), BasePath: basePath})
}

type carBody struct {
	ID    string      `json:"id"`
	Make  string      `json:"make"`
	Price json.Number `json:"price"`
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeCar(t *testing.T, rec *httptest.ResponseRecorder) carBody {
	t.Helper()
	var c carBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c), rec.Body.String())
	return c
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var e api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

// ─────────────────────────────────────────────────────────────────────────────
// Create / Get
// ─────────────────────────────────────────────────────────────────────────────

func TestCreate_ThenGet(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodPost, "/cars", `{"make":"Jeep","price":300}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	created := decodeCar(t, rec)
	_, err := uuid.Parse(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jeep", created.Make)
	assert.Equal(t, "300", created.Price.String())
	assert.Equal(t, "/cars/"+created.ID, rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, rec.Header().Get("Location"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeCar(t, rec))
}

func TestCreate_PriceKeepsExactDigits(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodPost, "/cars", `{"make":"Fiat","price":"19.99"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"price":19.99`)

	rec = do(t, h, http.MethodPost, "/cars", `{"make":"Fiat","price":12345678901234.5678}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"price":12345678901234.5678`)
}

func TestCreate_IgnoresIDAndUnknownFields(t *testing.T) {
	h := newTestRouter(t, "")
	supplied := uuid.New().String()

	rec := do(t, h, http.MethodPost, "/cars",
		fmt.Sprintf(`{"id":%q,"make":"Mazda","price":390,"color":"red"}`, supplied))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEqual(t, supplied, decodeCar(t, rec).ID)
}

func TestCreate_BadBodies(t *testing.T) {
	h := newTestRouter(t, "")

	tests := []struct {
		name   string
		body   string
		code   int
		errKey string
		field  string
	}{
		{"malformed", `{"make":`, http.StatusBadRequest, "invalid_payload", ""},
		{"empty", ``, http.StatusBadRequest, "invalid_payload", ""},
		{"price wrong type", `{"make":"Jeep","price":true}`, http.StatusBadRequest, "invalid_payload", ""},
		{"make wrong type", `{"make":7,"price":1}`, http.StatusBadRequest, "invalid_payload", ""},
		{"missing make", `{"price":1}`, http.StatusBadRequest, "validation_error", "make"},
		{"blank make", `{"make":"   ","price":1}`, http.StatusBadRequest, "validation_error", "make"},
		{"long make", fmt.Sprintf(`{"make":%q,"price":1}`, strings.Repeat("x", 51)), http.StatusBadRequest, "validation_error", "make"},
		{"missing price", `{"make":"Jeep"}`, http.StatusBadRequest, "validation_error", "price"},
		{"too many decimals", `{"make":"Jeep","price":1.23456}`, http.StatusBadRequest, "validation_error", "price"},
		{"too large", `{"make":"Jeep","price":1000000000000000}`, http.StatusBadRequest, "validation_error", "price"},
		{"huge exponent", `{"make":"Jeep","price":1e200000000}`, http.StatusBadRequest, "validation_error", "price"},
		{"tiny exponent", `{"make":"Jeep","price":1e-200000000}`, http.StatusBadRequest, "validation_error", "price"},
		{"huge exponent string", `{"make":"Jeep","price":"9e2000000000"}`, http.StatusBadRequest, "validation_error", "price"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/cars", tc.body)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())

			e := decodeError(t, rec)
			assert.Equal(t, tc.errKey, e.Error.Code)
			if tc.field != "" {
				require.Len(t, e.Error.Details, 1)
				assert.Equal(t, tc.field, e.Error.Details[0].Field)
			}
		})
	}

	rec := do(t, h, http.MethodGet, "/cars", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreate_ExtremeExponentRejectedQuickly(t *testing.T) {
	h := newTestRouter(t, "")

	start := time.Now()
	rec := do(t, h, http.MethodPut, "/cars/"+uuid.NewString(), `{"make":"Jeep","price":1e200000000}`)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/cars", `{"make":"Jeep","price":0e200000000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "0", decodeCar(t, rec).Price.String())
}

func TestCreate_BodyTooLarge(t *testing.T) {
	h := newTestRouter(t, "")
	body := `{"make":"Jeep","price":1,"pad":"` + strings.Repeat("x", api.MaxBodyBytes) + `"}`

	rec := do(t, h, http.MethodPost, "/cars", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec).Error.Code)
}

func TestGet_Errors(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/cars/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Error.Code)

	rec = do(t, h, http.MethodGet, "/cars/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// List
// ─────────────────────────────────────────────────────────────────────────────

func TestList(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/cars", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	do(t, h, http.MethodPost, "/cars", `{"make":"Jeep","price":300}`)
	do(t, h, http.MethodPost, "/cars", `{"make":"Honda","price":130}`)

	rec = do(t, h, http.MethodGet, "/cars", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cars []carBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cars))

	makes := make([]string, 0, len(cars))
	for _, c := range cars {
		makes = append(makes, c.Make)
	}
	assert.ElementsMatch(t, []string{"Jeep", "Honda"}, makes)
}

// ─────────────────────────────────────────────────────────────────────────────
// Upsert
// ─────────────────────────────────────────────────────────────────────────────

func TestUpsert_CreatesThenUpdates(t *testing.T) {
	h := newTestRouter(t, "")
	id := uuid.NewString()

	rec := do(t, h, http.MethodPut, "/cars/"+id, `{"make":"Tesla","price":500}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/cars/"+id, rec.Header().Get("Location"))
	assert.Equal(t, carBody{ID: id, Make: "Tesla", Price: "500"}, decodeCar(t, rec))

	rec = do(t, h, http.MethodPut, "/cars/"+id, `{"make":"Tesla","price":"550.25"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Equal(t, carBody{ID: id, Make: "Tesla", Price: "550.25"}, decodeCar(t, rec))

	rec = do(t, h, http.MethodGet, "/cars/"+id, "")
	assert.Equal(t, carBody{ID: id, Make: "Tesla", Price: "550.25"}, decodeCar(t, rec))
}

func TestUpsert_SameValuesIsUpdate(t *testing.T) {
	h := newTestRouter(t, "")
	id := uuid.NewString()

	do(t, h, http.MethodPut, "/cars/"+id, `{"make":"VW","price":10}`)
	rec := do(t, h, http.MethodPut, "/cars/"+id, `{"make":"VW","price":10}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpsert_BadInput(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodPut, "/cars/xyz", `{"make":"VW","price":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Error.Code)

	id := uuid.NewString()
	rec = do(t, h, http.MethodPut, "/cars/"+id, `{"make":"","price":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error.Code)

	rec = do(t, h, http.MethodGet, "/cars/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete
// ─────────────────────────────────────────────────────────────────────────────

func TestDelete(t *testing.T) {
	h := newTestRouter(t, "")

	created := decodeCar(t, do(t, h, http.MethodPost, "/cars", `{"make":"Dodge","price":390}`))

	rec := do(t, h, http.MethodDelete, "/cars/"+created.ID, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/cars/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/cars/"+created.ID, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodDelete, "/cars/bad", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Error mapping
// ─────────────────────────────────────────────────────────────────────────────

// stubRepo fails every call with err.
type stubRepo struct {
	repo.CarRepository
	err error
}

func (s stubRepo) List(context.Context) ([]*models.Car, error) { return nil, s.err }

func (s stubRepo) Upsert(context.Context, uuid.UUID, models.CarParams) (*repo.UpsertResult, error) {
	return nil, s.err
}

func (s stubRepo) Delete(context.Context, uuid.UUID) (bool, error) { return false, s.err }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		errKey string
	}{
		{"conflict", fmt.Errorf("%w: upsert: concurrent modification", repo.ErrConflict), http.StatusConflict, "conflict"},
		{"unavailable", fmt.Errorf("%w: dial tcp: refused", repo.ErrStoreUnavailable), http.StatusInternalServerError, "store_unavailable"},
		{"unexpected", errors.New("secret internals"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := api.NewRouter(api.RouterConfig{Repo: stubRepo{err: tc.err}})

			rec := do(t, h, http.MethodPut, "/cars/"+uuid.NewString(), `{"make":"VW","price":1}`)
			require.Equal(t, tc.code, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tc.errKey, e.Error.Code)
			assert.NotContains(t, e.Error.Message, "secret")
			assert.NotContains(t, e.Error.Message, "refused")
		})
	}

	h := api.NewRouter(api.RouterConfig{Repo: stubRepo{err: repo.ErrStoreUnavailable}})
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/cars", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodDelete, "/cars/"+uuid.NewString(), "").Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Base path
// ─────────────────────────────────────────────────────────────────────────────

func TestBasePath(t *testing.T) {
	h := newTestRouter(t, "/api")

	rec := do(t, h, http.MethodPost, "/api/cars", `{"make":"BMW","price":390}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeCar(t, rec).ID
	assert.Equal(t, "/api/cars/"+id, rec.Header().Get("Location"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/cars/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/cars/"+id, "").Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestCarLifecycle(t *testing.T) {
	h := newTestRouter(t, "")

	rec := do(t, h, http.MethodPost, "/cars", `{"make":"Jeep","price":300}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeCar(t, rec)
	item := "/cars/" + created.ID

	assert.Equal(t, created, decodeCar(t, do(t, h, http.MethodGet, item, "")))

	rec = do(t, h, http.MethodPut, item, `{"make":"Jeep","price":350}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, carBody{ID: created.ID, Make: "Jeep", Price: "350"}, decodeCar(t, rec))

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodDelete, item, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, item, "").Code)
}
