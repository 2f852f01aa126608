package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/foodflow/internal/apperr"
)

// DefaultDeliveryEstimate is added to the confirmation instant when an order
// is confirmed without an estimated delivery time.
const DefaultDeliveryEstimate = 45 * time.Minute

type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	MenuItemID string          `json:"menu_item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// NewOrderItem snapshots the unit price and computes the subtotal.
func NewOrderItem(menuItemID string, quantity int, unitPrice decimal.Decimal) (OrderItem, error) {
	if quantity < 1 {
		return OrderItem{}, apperr.Validation(apperr.CodeInvalidQuantity,
			"quantity for menu item %s must be at least 1, got %d", menuItemID, quantity)
	}

	price := unitPrice.Round(2)
	return OrderItem{
		MenuItemID: menuItemID,
		Quantity:   quantity,
		UnitPrice:  price,
		Subtotal:   price.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}, nil
}

type Order struct {
	ID                    string          `json:"id"`
	CustomerID            string          `json:"customer_id"`
	RestaurantID          string          `json:"restaurant_id"`
	DriverID              *string         `json:"driver_id,omitempty"`
	Status                OrderStatus     `json:"status"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	DeliveryAddress       string          `json:"delivery_address"`
	SpecialInstructions   *string         `json:"special_instructions,omitempty"`
	EstimatedDeliveryTime *time.Time      `json:"estimated_delivery_time,omitempty"`
	Items                 []OrderItem     `json:"items"`
	Version               int             `json:"version"`
	OrderDate             time.Time       `json:"order_date"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	o.TotalAmount = total.Round(2)
}

// ApplyTransition moves the order to next when the transition table allows it.
// Terminal orders reject every target with AlreadyCancelled or AlreadyDelivered.
func (o *Order) ApplyTransition(next OrderStatus, now time.Time) error {
	switch o.Status {
	case OrderStatusCancelled:
		return apperr.Conflict(apperr.CodeAlreadyCancelled, "order %s is already cancelled", o.ID)
	case OrderStatusDelivered:
		return apperr.Conflict(apperr.CodeAlreadyDelivered, "order %s is already delivered", o.ID)
	}

	if !CanTransition(o.Status, next) {
		return apperr.Conflict(apperr.CodeInvalidTransition,
			"cannot transition order %s from %s to %s", o.ID, o.Status, next)
	}

	if next == OrderStatusConfirmed && o.EstimatedDeliveryTime == nil {
		eta := now.Add(DefaultDeliveryEstimate).UTC()
		o.EstimatedDeliveryTime = &eta
	}

	o.Status = next
	o.UpdatedAt = now.UTC()
	return nil
}

func (o *Order) Cancel(now time.Time) error {
	return o.ApplyTransition(OrderStatusCancelled, now)
}

func (o *Order) HasDriver() bool {
	return o.DriverID != nil && *o.DriverID != ""
}
