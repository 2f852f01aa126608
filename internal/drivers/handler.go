package drivers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
)

type Store interface {
	Get(ctx context.Context, id string) (*domain.Driver, error)
	List(ctx context.Context, available *bool) ([]domain.Driver, error)
	SetAvailability(ctx context.Context, id string, available bool) (*domain.Driver, error)
}

// Handler exposes driver administration. Drivers are released by the order
// flow; setting availability here is an operator override.
type Handler struct {
	store   Store
	respond *httpapi.Responder
	logger  *zap.Logger
}

func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		respond: httpapi.NewResponder(logger),
		logger:  logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/drivers", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}/availability", h.HandleSetAvailability)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var available *bool
	if v := r.URL.Query().Get("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.respond.Error(w, r, apperr.Validation(apperr.CodeInvalidInput, "available must be true or false"))
			return
		}
		available = &b
	}

	drivers, err := h.store.List(r.Context(), available)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, drivers)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	driver, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, driver)
}

type availabilityRequest struct {
	IsAvailable *bool `json:"is_available"`
}

func (h *Handler) HandleSetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	var req availabilityRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	if req.IsAvailable == nil {
		h.respond.Error(w, r, apperr.Validation(apperr.CodeInvalidInput, "is_available is required"))
		return
	}

	driver, err := h.store.SetAvailability(r.Context(), id, *req.IsAvailable)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.logger.Info("driver availability set",
		zap.String("driver_id", driver.ID), zap.Bool("is_available", driver.IsAvailable))
	h.respond.JSON(w, http.StatusOK, driver)
}
