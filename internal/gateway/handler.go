package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler is the single public entry point. It owns no state and relays each
// resource prefix to the service that serves it.
type Handler struct {
	orders      *ServiceProxy
	restaurants *ServiceProxy
	delivery    *ServiceProxy
	logger      *zap.Logger
}

func NewHandler(orders, restaurants, delivery *ServiceProxy, logger *zap.Logger) *Handler {
	return &Handler{
		orders:      orders,
		restaurants: restaurants,
		delivery:    delivery,
		logger:      logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Handle("/orders", h.relay(h.orders))
	r.Handle("/orders/*", h.relay(h.orders))
	r.Handle("/restaurants/*", h.relay(h.restaurants))
	r.Handle("/deliveries", h.relay(h.delivery))
	r.Handle("/deliveries/*", h.relay(h.delivery))
	r.Handle("/drivers", h.relay(h.delivery))
	r.Handle("/drivers/*", h.relay(h.delivery))
}

func (h *Handler) relay(proxy *ServiceProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.proxyRequest(w, r, proxy, r.URL.Path)
	}
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request",
			zap.String("upstream", proxy.Name()), zap.String("path", path), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, proxy.Name()+" unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Debug("request proxied",
		zap.String("upstream", proxy.Name()),
		zap.String("method", r.Method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", zap.Error(err))
	}
}

type upstreamError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := struct {
		Success bool          `json:"success"`
		Error   upstreamError `json:"error"`
	}{
		Error: upstreamError{
			Code:       "SERVICE_UNAVAILABLE",
			Message:    message,
			StatusCode: status,
			Timestamp:  time.Now().UTC(),
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}
