package delivery

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
)

type Handler struct {
	tracker *Tracker
	respond *httpapi.Responder
}

func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	return &Handler{tracker: tracker, respond: httpapi.NewResponder(logger)}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/deliveries", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/order/{orderId}", h.HandleGetByOrder)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}/picked-up", h.HandlePickedUp)
		r.Patch("/{id}/delivered", h.HandleDelivered)
		r.Delete("/{id}", h.HandleRemove)
	})
}

type createRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	d, err := h.tracker.Create(r.Context(), req.OrderID)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.Message(w, http.StatusCreated, "delivery created", d)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, limit, err := httpapi.Pagination(r)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	orderID := r.URL.Query().Get("order_id")
	if orderID != "" {
		if err := httpapi.ValidateUUID("order_id", orderID); err != nil {
			h.respond.Error(w, r, err)
			return
		}
	}

	deliveries, total, err := h.tracker.List(r.Context(), domain.DeliveryFilter{OrderID: orderID, Page: page, Limit: limit})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, httpapi.Page[domain.Delivery]{
		Items: deliveries,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	d, err := h.tracker.Get(r.Context(), id)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, d)
}

func (h *Handler) HandleGetByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpapi.PathUUID(r, "orderId")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	d, err := h.tracker.GetByOrder(r.Context(), orderID)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, d)
}

func (h *Handler) HandlePickedUp(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	d, err := h.tracker.MarkPickedUp(r.Context(), id)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.Message(w, http.StatusOK, "order picked up", d)
}

func (h *Handler) HandleDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	d, err := h.tracker.MarkDelivered(r.Context(), id)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.Message(w, http.StatusOK, "order delivered", d)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	if err := h.tracker.Remove(r.Context(), id); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.NoContent(w)
}
