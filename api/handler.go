// Package api exposes the car store over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Skryldev/car-service/models"
	"github.com/Skryldev/car-service/repo"
)

const (
	carResource = "car"

	// MaxBodyBytes caps a create or upsert body.
	MaxBodyBytes = 1 << 20
)

// CarPath is the collection path of the car routes, relative to the base
// path.
var CarPath = "/" + pluralizer.Plural(carResource)

// Handler wires HTTP routes for the car store.
type Handler struct {
	repo     repo.CarRepository
	logger   *slog.Logger
	basePath string
}

// NewHandler constructs the HTTP handler. basePath prefixes every car route
// and every Location header.
func NewHandler(r repo.CarRepository, logger *slog.Logger, basePath string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: r, logger: logger, basePath: basePath}
}

// RegisterRoutes mounts the car routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route(h.basePath+CarPath, func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpsert)
			r.Delete("/", h.handleDelete)
		})
	})
}

// carResponse is the wire form of a car. Price is emitted from the
// decimal's exact text, never through float64.
type carResponse struct {
	ID    uuid.UUID   `json:"id"`
	Make  string      `json:"make"`
	Price json.Number `json:"price"`
}

func toResponse(c *models.Car) carResponse {
	return carResponse{ID: c.ID, Make: c.Make, Price: json.Number(c.Price.String())}
}

// carRequest accepts price as a JSON number or string. Any other field,
// id included, is ignored.
type carRequest struct {
	Make  string           `json:"make"`
	Price *decimal.Decimal `json:"price"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	cars, err := h.repo.List(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	out := make([]carResponse, len(cars))
	for i, c := range cars {
		out[i] = toResponse(c)
	}
	Respond(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	car, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	Respond(w, http.StatusOK, toResponse(car))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	params, ok := decodeCar(w, r)
	if !ok {
		return
	}

	car, err := h.repo.Insert(r.Context(), params)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", h.location(car.ID))
	Respond(w, http.StatusCreated, toResponse(car))
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	params, ok := decodeCar(w, r)
	if !ok {
		return
	}

	res, err := h.repo.Upsert(r.Context(), id, params)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if res.Created {
		w.Header().Set("Location", h.location(res.Car.ID))
		Respond(w, http.StatusCreated, toResponse(res.Car))
		return
	}
	Respond(w, http.StatusOK, toResponse(res.Car))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if _, err := h.repo.Delete(r.Context(), id); err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	Respond(w, http.StatusAccepted, nil)
}

func (h *Handler) location(id uuid.UUID) string {
	return h.basePath + CarPath + "/" + id.String()
}

func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]ErrorDetail, len(verr.Fields))
		for i, f := range verr.Fields {
			details[i] = ErrorDetail{Field: f.Field, Message: f.Message}
		}
		Error(w, http.StatusBadRequest, "validation_error", "request body failed validation", details...)
	case errors.Is(err, repo.ErrNotFound):
		Error(w, http.StatusNotFound, "not_found", "car not found")
	case errors.Is(err, repo.ErrConflict):
		Error(w, http.StatusConflict, "conflict", "the car was modified concurrently, retry the request")
	case errors.Is(err, repo.ErrStoreUnavailable):
		loggerFrom(r.Context(), h.logger).ErrorContext(r.Context(), "api: store unavailable",
			slog.String("route", r.Method+" "+r.URL.Path),
			slog.Any("error", err))
		Error(w, http.StatusInternalServerError, "store_unavailable", "the car store is unavailable")
	default:
		loggerFrom(r.Context(), h.logger).ErrorContext(r.Context(), "api: request failed",
			slog.String("route", r.Method+" "+r.URL.Path),
			slog.Any("error", err))
		Error(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeCar(w http.ResponseWriter, r *http.Request) (models.CarParams, bool) {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var payload carRequest
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds 1 MiB")
			return models.CarParams{}, false
		}
		Error(w, http.StatusBadRequest, "invalid_payload", "Malformed JSON payload")
		return models.CarParams{}, false
	}
	return models.CarParams{Make: payload.Make, Price: payload.Price}, true
}
