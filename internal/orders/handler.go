package orders

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
)

type Handler struct {
	svc     *Service
	respond *httpapi.Responder
	logger  *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:     svc,
		respond: httpapi.NewResponder(logger),
		logger:  logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
		r.Patch("/{id}/status", h.HandleUpdateStatus)
		r.Patch("/{id}/driver", h.HandleAssignDriver)
		r.Patch("/{id}/cancel", h.HandleCancel)
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderInput
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	order, err := h.svc.PlaceOrder(r.Context(), req)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.Message(w, http.StatusCreated, "order placed", order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, limit, err := httpapi.Pagination(r)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := domain.OrderFilter{
		Status:       domain.OrderStatus(q.Get("status")),
		CustomerID:   q.Get("customer_id"),
		RestaurantID: q.Get("restaurant_id"),
		DriverID:     q.Get("driver_id"),
		Page:         page,
		Limit:        limit,
	}
	for field, value := range map[string]string{
		"customer_id":   filter.CustomerID,
		"restaurant_id": filter.RestaurantID,
		"driver_id":     filter.DriverID,
	} {
		if value == "" {
			continue
		}
		if err := httpapi.ValidateUUID(field, value); err != nil {
			h.respond.Error(w, r, err)
			return
		}
	}

	orders, total, err := h.svc.ListOrders(r.Context(), filter)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, httpapi.Page[domain.Order]{
		Items: orders,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.logger.Info("order status updated", zap.String("order_id", order.ID), zap.Stringer("status", order.Status))
	h.respond.JSON(w, http.StatusOK, order)
}

type assignDriverRequest struct {
	DriverID string `json:"driver_id"`
}

func (h *Handler) HandleAssignDriver(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	var req assignDriverRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	order, err := h.svc.AssignDriver(r.Context(), id, req.DriverID)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.JSON(w, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.PathUUID(r, "id")
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	order, err := h.svc.CancelOrder(r.Context(), id)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}

	h.respond.Message(w, http.StatusOK, "order cancelled", order)
}
