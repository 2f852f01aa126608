package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
)

type DeliveryStore interface {
	Create(ctx context.Context, d *domain.Delivery) error
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Delivery, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.Delivery, error)
	Update(ctx context.Context, d *domain.Delivery) error
	List(ctx context.Context, f domain.DeliveryFilter) ([]domain.Delivery, int, error)
	Delete(ctx context.Context, id string) error
}

type OrderStore interface {
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
}

type DriverClaimer interface {
	ClaimAvailable(ctx context.Context) (*domain.Driver, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventEmitter interface {
	Emit(ctx context.Context, evt events.Event)
}

func newDelivery(orderID string, now time.Time) *domain.Delivery {
	now = now.UTC()
	return &domain.Delivery{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ensureDelivery returns the order's delivery, creating it when missing.
// Callers hold the order row lock, so two creators cannot race.
func ensureDelivery(ctx context.Context, deliveries DeliveryStore, orderID string, now time.Time) (*domain.Delivery, bool, error) {
	d, err := deliveries.GetByOrder(ctx, orderID)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, apperr.ErrDeliveryNotFound) {
		return nil, false, err
	}

	d = newDelivery(orderID, now)
	if err := deliveries.Create(ctx, d); err != nil {
		return nil, false, err
	}
	return d, true, nil
}
