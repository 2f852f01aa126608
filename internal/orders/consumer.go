package orders

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
	"github.com/joao-fontenele/foodflow/internal/messaging"
)

// NewConsumer routes the order area's queue to the service's event handlers.
func NewConsumer(svc *Service, logger *zap.Logger, opts ...messaging.RouterOption) *messaging.Router {
	r := messaging.NewRouter(messaging.OrdersQueue, logger, opts...)
	r.Handle(events.OrderConfirmed, messaging.On(svc.HandleOrderConfirmed))
	r.Handle(events.DriverAssigned, messaging.On(svc.HandleDriverAssigned))
	r.Handle(events.OrderPickedUp, messaging.On(svc.HandleOrderPickedUp))
	r.Handle(events.OrderDelivered, messaging.On(svc.HandleOrderDelivered))
	return r
}

// HandleOrderConfirmed confirms a still pending order with the restaurant's
// estimate. Orders already past PENDING are left alone.
func (s *Service) HandleOrderConfirmed(ctx context.Context, evt events.OrderConfirmedEvent) error {
	logger := s.logger.With(zap.String("order_id", evt.OrderID), zap.String("event_id", evt.EventID))

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, evt.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			logger.Debug("order already confirmed", zap.Stringer("status", order.Status))
			return nil
		}

		if evt.EstimatedDeliveryTime != nil {
			eta := evt.EstimatedDeliveryTime.UTC()
			order.EstimatedDeliveryTime = &eta
		}
		if err := order.ApplyTransition(domain.OrderStatusConfirmed, s.now()); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}

		logger.Info("order confirmed")
		return nil
	})
}

// HandleDriverAssigned records the assigned driver. The same assignment seen
// twice is a no-op; a different driver for an assigned order is a conflict.
func (s *Service) HandleDriverAssigned(ctx context.Context, evt events.DriverAssignedEvent) error {
	logger := s.logger.With(zap.String("order_id", evt.OrderID), zap.String("driver_id", evt.DriverID),
		zap.String("event_id", evt.EventID))

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, evt.OrderID)
		if err != nil {
			return err
		}

		if order.HasDriver() {
			if *order.DriverID == evt.DriverID {
				logger.Debug("driver already recorded")
				return nil
			}
			return apperr.Conflict(apperr.CodeInvalidTransition,
				"order %s is assigned to driver %s, not %s", order.ID, *order.DriverID, evt.DriverID)
		}
		if order.Status == domain.OrderStatusCancelled {
			return apperr.Conflict(apperr.CodeAlreadyCancelled,
				"driver %s assigned to cancelled order %s", evt.DriverID, order.ID)
		}

		driverID := evt.DriverID
		order.DriverID = &driverID
		order.UpdatedAt = s.now().UTC()
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}

		logger.Info("driver recorded on order")
		return nil
	})
}

// HandleOrderPickedUp moves a READY order to PICKED_UP. Any other state is
// left alone, so a duplicate pickup is harmless.
func (s *Service) HandleOrderPickedUp(ctx context.Context, evt events.OrderPickedUpEvent) error {
	logger := s.logger.With(zap.String("order_id", evt.OrderID), zap.String("event_id", evt.EventID))

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, evt.OrderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusReady {
			logger.Debug("pickup ignored", zap.Stringer("status", order.Status))
			return nil
		}

		if !order.HasDriver() && evt.DriverID != "" {
			driverID := evt.DriverID
			order.DriverID = &driverID
		}
		if err := order.ApplyTransition(domain.OrderStatusPickedUp, evt.PickedUpAt); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}

		logger.Info("order picked up")
		return nil
	})
}

// HandleOrderDelivered marks the order DELIVERED and frees its driver in one
// unit of work. A READY order passes through PICKED_UP first, since the pickup
// event may arrive after this one. A redelivery for an already delivered
// order changes nothing: the driver was released with the first delivery and
// may since carry another order.
func (s *Service) HandleOrderDelivered(ctx context.Context, evt events.OrderDeliveredEvent) error {
	logger := s.logger.With(zap.String("order_id", evt.OrderID), zap.String("event_id", evt.EventID))

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, evt.OrderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case domain.OrderStatusDelivered:
			logger.Debug("order already delivered, driver left as is")
			return nil
		case domain.OrderStatusReady:
			if err := order.ApplyTransition(domain.OrderStatusPickedUp, evt.DeliveredAt); err != nil {
				return err
			}
			fallthrough
		default:
			if err := order.ApplyTransition(domain.OrderStatusDelivered, evt.DeliveredAt); err != nil {
				return err
			}
			if !order.HasDriver() && evt.DriverID != "" {
				driverID := evt.DriverID
				order.DriverID = &driverID
			}
			if err := s.orders.Update(ctx, order); err != nil {
				return err
			}
			logger.Info("order delivered")
		}

		driverID := evt.DriverID
		if order.HasDriver() {
			driverID = *order.DriverID
		}
		if driverID == "" {
			logger.Warn("delivered order has no driver to release")
			return nil
		}

		if _, err := s.drivers.SetAvailability(ctx, driverID, true); err != nil {
			if errors.Is(err, apperr.ErrDriverNotFound) {
				logger.Warn("driver to release not found", zap.String("driver_id", driverID))
				return nil
			}
			return err
		}

		logger.Info("driver released", zap.String("driver_id", driverID))
		return nil
	})
}
