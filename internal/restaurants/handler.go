package restaurants

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
)

type Handler struct {
	svc     *Service
	respond *httpapi.Responder
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, respond: httpapi.NewResponder(logger)}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/restaurants/orders/{id}", func(r chi.Router) {
		r.Post("/confirm", h.HandleConfirm)
		r.Post("/prepare", h.HandlePrepare)
		r.Post("/ready", h.HandleReady)
	})
}

type confirmRequest struct {
	EstimatedDeliveryTime *time.Time `json:"estimated_delivery_time,omitempty"`
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	var req confirmRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.reply(w, r, "order confirmed")(h.svc.Confirm(r.Context(), id, req.EstimatedDeliveryTime))
}

func (h *Handler) HandlePrepare(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.reply(w, r, "order preparation started")(h.svc.StartPreparing(r.Context(), id))
}

func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.reply(w, r, "order ready for pickup")(h.svc.MarkReady(r.Context(), id))
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, message string) func(*domain.Order, error) {
	return func(order *domain.Order, err error) {
		if err != nil {
			h.respond.Error(w, r, err)
			return
		}
		h.respond.Message(w, http.StatusOK, message, order)
	}
}
