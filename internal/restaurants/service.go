package restaurants

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
	"github.com/joao-fontenele/foodflow/internal/messaging"
)

type OrderStore interface {
	GetForUpdate(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventEmitter interface {
	Emit(ctx context.Context, evt events.Event)
}

// Service is the kitchen side of the flow: it accepts incoming orders and
// moves them through confirmation and preparation.
type Service struct {
	orders      OrderStore
	tx          Transactor
	emitter     EventEmitter
	logger      *zap.Logger
	autoConfirm bool
	now         func() time.Time
}

type Option func(*Service)

// WithAutoConfirm confirms every incoming order as soon as it is placed.
func WithAutoConfirm(enabled bool) Option {
	return func(s *Service) {
		s.autoConfirm = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(orders OrderStore, tx Transactor, emitter EventEmitter, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		orders:  orders,
		tx:      tx,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Confirm accepts the order and publishes order.confirmed. A nil eta leaves
// the default estimate to the state machine.
func (s *Service) Confirm(ctx context.Context, orderID string, eta *time.Time) (*domain.Order, error) {
	if eta != nil && !eta.After(s.now()) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "estimated_delivery_time must be in the future")
	}

	order, err := s.transition(ctx, orderID, domain.OrderStatusConfirmed, func(o *domain.Order) {
		if eta != nil {
			t := eta.UTC()
			o.EstimatedDeliveryTime = &t
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order confirmed by restaurant",
		zap.String("order_id", order.ID), zap.Timep("estimated_delivery_time", order.EstimatedDeliveryTime))
	s.emitter.Emit(ctx, events.NewOrderConfirmed(order))
	return order, nil
}

func (s *Service) StartPreparing(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.transition(ctx, orderID, domain.OrderStatusPreparing, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order preparation started", zap.String("order_id", order.ID))
	return order, nil
}

// MarkReady hands the order over to dispatch by publishing order.ready.
func (s *Service) MarkReady(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.transition(ctx, orderID, domain.OrderStatusReady, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order ready for pickup", zap.String("order_id", order.ID))
	s.emitter.Emit(ctx, events.NewOrderReady(order))
	return order, nil
}

func (s *Service) transition(ctx context.Context, orderID string, next domain.OrderStatus,
	prepare func(o *domain.Order)) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if prepare != nil {
			prepare(order)
		}
		if err := order.ApplyTransition(next, s.now()); err != nil {
			return err
		}
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// HandleOrderPlaced records an incoming order for the kitchen and, with auto
// confirmation on, confirms it when it is still pending.
func (s *Service) HandleOrderPlaced(ctx context.Context, evt events.OrderPlacedEvent) error {
	logger := s.logger.With(
		zap.String("order_id", evt.OrderID),
		zap.String("restaurant_id", evt.RestaurantID),
		zap.String("event_id", evt.EventID),
	)
	logger.Info("incoming order",
		zap.Int("items", len(evt.Items)),
		zap.String("total_amount", evt.TotalAmount.StringFixed(2)),
	)

	if !s.autoConfirm {
		return nil
	}

	_, err := s.Confirm(ctx, evt.OrderID, nil)
	if apperr.KindOf(err) == apperr.KindConflict {
		logger.Debug("order no longer pending, skipping auto confirm", zap.Error(err))
		return nil
	}
	return err
}

// NewConsumer routes the restaurant queue to the service.
func NewConsumer(svc *Service, logger *zap.Logger, opts ...messaging.RouterOption) *messaging.Router {
	r := messaging.NewRouter(messaging.RestaurantsQueue, logger, opts...)
	r.Handle(events.OrderPlaced, messaging.On(svc.HandleOrderPlaced))
	return r
}
