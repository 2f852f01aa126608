package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
)

type OrderStore interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error)
}

type CatalogReader interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error)
	GetMenuItems(ctx context.Context, ids []string) (map[string]domain.MenuItem, error)
}

type DriverStore interface {
	Reserve(ctx context.Context, id string) (*domain.Driver, error)
	SetAvailability(ctx context.Context, id string, available bool) (*domain.Driver, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventEmitter interface {
	Emit(ctx context.Context, evt events.Event)
}

type Service struct {
	orders  OrderStore
	catalog CatalogReader
	drivers DriverStore
	tx      Transactor
	emitter EventEmitter
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for stamping transitions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(orders OrderStore, catalog CatalogReader, drivers DriverStore, tx Transactor,
	emitter EventEmitter, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		orders:  orders,
		catalog: catalog,
		drivers: drivers,
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

type PlaceOrderItem struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

type PlaceOrderInput struct {
	CustomerID          string           `json:"customer_id"`
	RestaurantID        string           `json:"restaurant_id"`
	DeliveryAddress     string           `json:"delivery_address"`
	SpecialInstructions *string          `json:"special_instructions,omitempty"`
	Items               []PlaceOrderItem `json:"items"`
}

func (in PlaceOrderInput) validate() error {
	if err := validUUID("customer_id", in.CustomerID); err != nil {
		return err
	}
	if err := validUUID("restaurant_id", in.RestaurantID); err != nil {
		return err
	}
	if strings.TrimSpace(in.DeliveryAddress) == "" {
		return apperr.Validation(apperr.CodeInvalidInput, "delivery_address is required")
	}
	for _, item := range in.Items {
		if err := validUUID("menu_item_id", item.MenuItemID); err != nil {
			return err
		}
	}
	return nil
}

// PlaceOrder validates the request against the catalog, snapshots prices and
// stores the order with its items atomically. Item checks run in list order
// and stop at the first violation.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if _, err := s.catalog.GetCustomer(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	restaurant, err := s.catalog.GetRestaurant(ctx, in.RestaurantID)
	if err != nil {
		return nil, err
	}
	if !restaurant.IsActive {
		return nil, apperr.Validation(apperr.CodeRestaurantNotActive, "restaurant %s is not active", restaurant.ID)
	}

	if len(in.Items) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyOrder, "order must contain at least one item")
	}

	ids := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		ids = append(ids, item.MenuItemID)
	}
	menu, err := s.catalog.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:                  uuid.NewString(),
		CustomerID:          in.CustomerID,
		RestaurantID:        in.RestaurantID,
		Status:              domain.OrderStatusPending,
		DeliveryAddress:     strings.TrimSpace(in.DeliveryAddress),
		SpecialInstructions: in.SpecialInstructions,
		Version:             1,
		OrderDate:           now,
		UpdatedAt:           now,
	}

	for _, req := range in.Items {
		if req.Quantity < 1 {
			return nil, apperr.Validation(apperr.CodeInvalidQuantity,
				"quantity for menu item %s must be at least 1, got %d", req.MenuItemID, req.Quantity)
		}

		menuItem, ok := menu[req.MenuItemID]
		if !ok {
			return nil, apperr.NotFound(apperr.CodeMenuItemNotFound, "menu item %s not found", req.MenuItemID)
		}
		if !menuItem.IsAvailable {
			return nil, apperr.Validation(apperr.CodeMenuItemNotAvailable, "menu item %s is not available", menuItem.ID)
		}
		if menuItem.RestaurantID != restaurant.ID {
			return nil, apperr.Validation(apperr.CodeMenuItemNotInRestaurant,
				"menu item %s does not belong to restaurant %s", menuItem.ID, restaurant.ID)
		}

		item, err := domain.NewOrderItem(menuItem.ID, req.Quantity, menuItem.Price)
		if err != nil {
			return nil, err
		}
		item.ID = uuid.NewString()
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}
	order.RecalculateTotal()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.orders.Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)),
	)
	s.emitter.Emit(ctx, events.NewOrderPlaced(order))

	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation(apperr.CodeInvalidInput, "unknown status %q", f.Status)
	}
	return s.orders.List(ctx, f)
}

// UpdateStatus applies an administrative transition. It publishes nothing.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "unknown status %q", status)
	}

	return s.mutate(ctx, id, func(o *domain.Order) error {
		return o.ApplyTransition(status, s.now())
	})
}

// CancelOrder cancels a pre-dispatch order. A driver already reserved for the
// order stays reserved; see the logged warning.
func (s *Service) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.mutate(ctx, id, func(o *domain.Order) error {
		return o.Cancel(s.now())
	})
	if err != nil {
		return nil, err
	}

	if order.HasDriver() {
		s.logger.Warn("cancelled order still holds a driver",
			zap.String("order_id", order.ID), zap.String("driver_id", *order.DriverID))
	}
	return order, nil
}

// AssignDriver reserves a specific driver for the order and records it in one
// unit of work, then publishes driver.assigned.
func (s *Service) AssignDriver(ctx context.Context, orderID, driverID string) (*domain.Order, error) {
	if err := validUUID("driver_id", driverID); err != nil {
		return nil, err
	}

	var (
		order  *domain.Order
		driver *domain.Driver
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case domain.OrderStatusCancelled:
			return apperr.Conflict(apperr.CodeAlreadyCancelled, "order %s is already cancelled", order.ID)
		case domain.OrderStatusDelivered:
			return apperr.Conflict(apperr.CodeAlreadyDelivered, "order %s is already delivered", order.ID)
		}
		if order.HasDriver() {
			return apperr.Conflict(apperr.CodeInvalidTransition,
				"order %s already has driver %s", order.ID, *order.DriverID)
		}

		driver, err = s.drivers.Reserve(ctx, driverID)
		if err != nil {
			return err
		}

		order.DriverID = &driver.ID
		order.UpdatedAt = s.now().UTC()
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("driver assigned manually",
		zap.String("order_id", order.ID), zap.String("driver_id", driver.ID))
	s.emitter.Emit(ctx, events.NewDriverAssigned(order, driver, order.UpdatedAt))

	return order, nil
}

func (s *Service) mutate(ctx context.Context, id string, fn func(o *domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
		return s.orders.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func validUUID(field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "%s must be a valid uuid", field)
	}
	return nil
}
