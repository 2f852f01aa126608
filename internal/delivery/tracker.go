package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
)

// Tracker records the driver's progress on a delivery and publishes it.
type Tracker struct {
	deliveries DeliveryStore
	orders     OrderStore
	tx         Transactor
	emitter    EventEmitter
	logger     *zap.Logger
	now        func() time.Time
}

type TrackerOption func(*Tracker)

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(deliveries DeliveryStore, orders OrderStore, tx Transactor, emitter EventEmitter,
	logger *zap.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		deliveries: deliveries,
		orders:     orders,
		tx:         tx,
		emitter:    emitter,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkPickedUp stamps the pickup and publishes order.picked.up carrying the
// stamped instant.
func (t *Tracker) MarkPickedUp(ctx context.Context, id string) (*domain.Delivery, error) {
	d, order, err := t.stamp(ctx, id, (*domain.Delivery).MarkPickedUp)
	if err != nil {
		return nil, err
	}

	t.logger.Info("order picked up",
		zap.String("delivery_id", d.ID), zap.String("order_id", order.ID), zap.Stringp("driver_id", order.DriverID))
	t.emitter.Emit(ctx, events.NewOrderPickedUp(order, *d.PickedUpAt))
	return d, nil
}

// MarkDelivered stamps the drop-off and publishes order.delivered. The pickup
// must have been recorded first.
func (t *Tracker) MarkDelivered(ctx context.Context, id string) (*domain.Delivery, error) {
	d, order, err := t.stamp(ctx, id, (*domain.Delivery).MarkDelivered)
	if err != nil {
		return nil, err
	}

	t.logger.Info("order delivered",
		zap.String("delivery_id", d.ID), zap.String("order_id", order.ID), zap.Stringp("driver_id", order.DriverID))
	t.emitter.Emit(ctx, events.NewOrderDelivered(order, *d.DeliveredAt))
	return d, nil
}

func (t *Tracker) stamp(ctx context.Context, id string,
	mark func(d *domain.Delivery, at time.Time) error) (*domain.Delivery, *domain.Order, error) {
	var (
		d     *domain.Delivery
		order *domain.Order
	)
	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = t.deliveries.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := mark(d, t.now()); err != nil {
			return err
		}
		if err := t.deliveries.Update(ctx, d); err != nil {
			return err
		}
		order, err = t.orders.Get(ctx, d.OrderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return d, order, nil
}

// HandleOrderPickedUp mirrors a pickup published elsewhere onto the delivery
// record. A pickup already recorded is left as is.
func (t *Tracker) HandleOrderPickedUp(ctx context.Context, evt events.OrderPickedUpEvent) error {
	logger := t.logger.With(zap.String("order_id", evt.OrderID), zap.String("event_id", evt.EventID))

	return t.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := t.orders.GetForUpdate(ctx, evt.OrderID); err != nil {
			return err
		}

		d, _, err := ensureDelivery(ctx, t.deliveries, evt.OrderID, t.now())
		if err != nil {
			return err
		}
		if d.PickedUpAt != nil {
			logger.Debug("pickup already recorded", zap.String("delivery_id", d.ID))
			return nil
		}

		if err := d.MarkPickedUp(evt.PickedUpAt); err != nil {
			return err
		}
		if err := t.deliveries.Update(ctx, d); err != nil {
			return err
		}

		logger.Info("pickup mirrored", zap.String("delivery_id", d.ID))
		return nil
	})
}

// Create opens a delivery for an existing order.
func (t *Tracker) Create(ctx context.Context, orderID string) (*domain.Delivery, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "order_id must be a valid uuid")
	}

	var d *domain.Delivery
	err := t.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := t.orders.GetForUpdate(ctx, orderID); err != nil {
			return err
		}

		var created bool
		var err error
		d, created, err = ensureDelivery(ctx, t.deliveries, orderID, t.now())
		if err != nil {
			return err
		}
		if !created {
			return apperr.AlreadyExists(apperr.CodeDeliveryAlreadyExists,
				"delivery for order %s already exists", orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("delivery created", zap.String("delivery_id", d.ID), zap.String("order_id", orderID))
	return d, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	return t.deliveries.Get(ctx, id)
}

func (t *Tracker) GetByOrder(ctx context.Context, orderID string) (*domain.Delivery, error) {
	return t.deliveries.GetByOrder(ctx, orderID)
}

func (t *Tracker) List(ctx context.Context, f domain.DeliveryFilter) ([]domain.Delivery, int, error) {
	return t.deliveries.List(ctx, f)
}

// Remove deletes a delivery record. It does not touch the order or driver.
func (t *Tracker) Remove(ctx context.Context, id string) error {
	if err := t.deliveries.Delete(ctx, id); err != nil {
		return err
	}
	t.logger.Info("delivery removed", zap.String("delivery_id", id))
	return nil
}
