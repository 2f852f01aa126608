package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/foodflow/internal/domain"
)

type PlacedItem struct {
	MenuItemID string          `json:"menuItemId"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

type OrderPlacedEvent struct {
	Envelope
	OrderID             string          `json:"orderId"`
	CustomerID          string          `json:"customerId"`
	RestaurantID        string          `json:"restaurantId"`
	Items               []PlacedItem    `json:"items"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	DeliveryAddress     string          `json:"deliveryAddress"`
	SpecialInstructions *string         `json:"specialInstructions,omitempty"`
}

func NewOrderPlaced(o *domain.Order) OrderPlacedEvent {
	items := make([]PlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PlacedItem{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			Subtotal:   it.Subtotal,
		})
	}
	return OrderPlacedEvent{
		Envelope:            NewEnvelope(OrderPlaced),
		OrderID:             o.ID,
		CustomerID:          o.CustomerID,
		RestaurantID:        o.RestaurantID,
		Items:               items,
		TotalAmount:         o.TotalAmount,
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
	}
}

func (e OrderPlacedEvent) PartitionKey() string { return e.OrderID }

func (e OrderPlacedEvent) Validate() error {
	if err := e.Envelope.validate(OrderPlaced); err != nil {
		return err
	}
	if err := requireFields(
		[2]string{"orderId", e.OrderID},
		[2]string{"customerId", e.CustomerID},
		[2]string{"restaurantId", e.RestaurantID},
	); err != nil {
		return err
	}
	if len(e.Items) == 0 {
		return fmt.Errorf("%w: order.placed without items", ErrMalformed)
	}
	return nil
}

type OrderConfirmedEvent struct {
	Envelope
	OrderID               string     `json:"orderId"`
	RestaurantID          string     `json:"restaurantId"`
	EstimatedDeliveryTime *time.Time `json:"estimatedDeliveryTime,omitempty"`
}

func NewOrderConfirmed(o *domain.Order) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		Envelope:              NewEnvelope(OrderConfirmed),
		OrderID:               o.ID,
		RestaurantID:          o.RestaurantID,
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
	}
}

func (e OrderConfirmedEvent) PartitionKey() string { return e.OrderID }

func (e OrderConfirmedEvent) Validate() error {
	if err := e.Envelope.validate(OrderConfirmed); err != nil {
		return err
	}
	return requireFields([2]string{"orderId", e.OrderID}, [2]string{"restaurantId", e.RestaurantID})
}

type OrderReadyEvent struct {
	Envelope
	OrderID         string `json:"orderId"`
	RestaurantID    string `json:"restaurantId"`
	DeliveryAddress string `json:"deliveryAddress"`
}

func NewOrderReady(o *domain.Order) OrderReadyEvent {
	return OrderReadyEvent{
		Envelope:        NewEnvelope(OrderReady),
		OrderID:         o.ID,
		RestaurantID:    o.RestaurantID,
		DeliveryAddress: o.DeliveryAddress,
	}
}

func (e OrderReadyEvent) PartitionKey() string { return e.OrderID }

func (e OrderReadyEvent) Validate() error {
	if err := e.Envelope.validate(OrderReady); err != nil {
		return err
	}
	return requireField("orderId", e.OrderID)
}

type DriverAssignedEvent struct {
	Envelope
	OrderID               string     `json:"orderId"`
	DriverID              string     `json:"driverId"`
	DriverName            string     `json:"driverName"`
	DriverPhone           string     `json:"driverPhone"`
	AssignedAt            time.Time  `json:"assignedAt"`
	EstimatedDeliveryTime *time.Time `json:"estimatedDeliveryTime,omitempty"`
}

func NewDriverAssigned(o *domain.Order, d *domain.Driver, assignedAt time.Time) DriverAssignedEvent {
	return DriverAssignedEvent{
		Envelope:              NewEnvelope(DriverAssigned),
		OrderID:               o.ID,
		DriverID:              d.ID,
		DriverName:            d.Name,
		DriverPhone:           d.Phone,
		AssignedAt:            assignedAt.UTC(),
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
	}
}

func (e DriverAssignedEvent) PartitionKey() string { return e.OrderID }

func (e DriverAssignedEvent) Validate() error {
	if err := e.Envelope.validate(DriverAssigned); err != nil {
		return err
	}
	return requireFields([2]string{"orderId", e.OrderID}, [2]string{"driverId", e.DriverID})
}

type OrderPickedUpEvent struct {
	Envelope
	OrderID    string    `json:"orderId"`
	DriverID   string    `json:"driverId"`
	CustomerID string    `json:"customerId"`
	PickedUpAt time.Time `json:"pickedUpAt"`
}

func NewOrderPickedUp(o *domain.Order, pickedUpAt time.Time) OrderPickedUpEvent {
	evt := OrderPickedUpEvent{
		Envelope:   NewEnvelope(OrderPickedUp),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		PickedUpAt: pickedUpAt.UTC(),
	}
	if o.DriverID != nil {
		evt.DriverID = *o.DriverID
	}
	return evt
}

func (e OrderPickedUpEvent) PartitionKey() string { return e.OrderID }

func (e OrderPickedUpEvent) Validate() error {
	if err := e.Envelope.validate(OrderPickedUp); err != nil {
		return err
	}
	if err := requireField("orderId", e.OrderID); err != nil {
		return err
	}
	if e.PickedUpAt.IsZero() {
		return fmt.Errorf("%w: missing pickedUpAt", ErrMalformed)
	}
	return nil
}

type OrderDeliveredEvent struct {
	Envelope
	OrderID     string    `json:"orderId"`
	DriverID    string    `json:"driverId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

func NewOrderDelivered(o *domain.Order, deliveredAt time.Time) OrderDeliveredEvent {
	evt := OrderDeliveredEvent{
		Envelope:    NewEnvelope(OrderDelivered),
		OrderID:     o.ID,
		DeliveredAt: deliveredAt.UTC(),
	}
	if o.DriverID != nil {
		evt.DriverID = *o.DriverID
	}
	return evt
}

func (e OrderDeliveredEvent) PartitionKey() string { return e.OrderID }

func (e OrderDeliveredEvent) Validate() error {
	if err := e.Envelope.validate(OrderDelivered); err != nil {
		return err
	}
	return requireField("orderId", e.OrderID)
}
