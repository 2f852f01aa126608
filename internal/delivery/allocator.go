package delivery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
)

// Allocator assigns a driver to each order that becomes ready.
type Allocator struct {
	orders     OrderStore
	drivers    DriverClaimer
	deliveries DeliveryStore
	tx         Transactor
	emitter    EventEmitter
	logger     *zap.Logger
	exhausted  metric.Int64Counter
	now        func() time.Time
}

func NewAllocator(orders OrderStore, drivers DriverClaimer, deliveries DeliveryStore, tx Transactor,
	emitter EventEmitter, logger *zap.Logger) *Allocator {
	exhausted, _ := otel.Meter("foodflow/delivery").Int64Counter("foodflow.allocation.exhausted",
		metric.WithDescription("Ready orders left without a driver because none was available"))

	return &Allocator{
		orders:     orders,
		drivers:    drivers,
		deliveries: deliveries,
		tx:         tx,
		emitter:    emitter,
		logger:     logger,
		exhausted:  exhausted,
		now:        time.Now,
	}
}

type allocation int

const (
	allocationSkipped allocation = iota
	allocationExhausted
	allocationAssigned
)

// HandleOrderReady makes sure the order has a delivery record and claims one
// available driver for it. Claiming the driver and recording it on the order
// commit together. Orders that already carry a driver, or are no longer
// READY, are left alone so a redelivered event assigns nothing twice. When no
// driver is free the order stays READY and no event is published.
func (a *Allocator) HandleOrderReady(ctx context.Context, evt events.OrderReadyEvent) error {
	logger := a.logger.With(zap.String("order_id", evt.OrderID), zap.String("event_id", evt.EventID))
	now := a.now().UTC()

	var (
		order   *domain.Order
		driver  *domain.Driver
		outcome allocation
	)
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = a.orders.GetForUpdate(ctx, evt.OrderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case domain.OrderStatusReady, domain.OrderStatusPickedUp, domain.OrderStatusDelivered:
			d, created, err := ensureDelivery(ctx, a.deliveries, order.ID, now)
			if err != nil {
				return err
			}
			if created {
				logger.Info("delivery created", zap.String("delivery_id", d.ID))
			}
		}

		if order.Status != domain.OrderStatusReady || order.HasDriver() {
			outcome = allocationSkipped
			return nil
		}

		driver, err = a.drivers.ClaimAvailable(ctx)
		if err != nil {
			return err
		}
		if driver == nil {
			outcome = allocationExhausted
			return nil
		}

		order.DriverID = &driver.ID
		order.UpdatedAt = now
		if err := a.orders.Update(ctx, order); err != nil {
			return err
		}
		outcome = allocationAssigned
		return nil
	})
	if err != nil {
		return err
	}

	switch outcome {
	case allocationSkipped:
		logger.Info("allocation skipped", zap.Stringer("status", order.Status), zap.Bool("has_driver", order.HasDriver()))
	case allocationExhausted:
		logger.Warn("no driver available, order stays ready")
		if a.exhausted != nil {
			a.exhausted.Add(ctx, 1)
		}
	case allocationAssigned:
		logger.Info("driver allocated", zap.String("driver_id", driver.ID))
		a.emitter.Emit(ctx, events.NewDriverAssigned(order, driver, now))
	}
	return nil
}
