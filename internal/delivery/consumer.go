package delivery

import (
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/events"
	"github.com/joao-fontenele/foodflow/internal/messaging"
)

// NewConsumer routes the delivery queue: ready orders go to allocation and
// pickups are mirrored onto the delivery record.
func NewConsumer(alloc *Allocator, tracker *Tracker, logger *zap.Logger, opts ...messaging.RouterOption) *messaging.Router {
	r := messaging.NewRouter(messaging.DeliveryQueue, logger, opts...)
	r.Handle(events.OrderReady, messaging.On(alloc.HandleOrderReady))
	r.Handle(events.OrderPickedUp, messaging.On(tracker.HandleOrderPickedUp))
	return r
}
