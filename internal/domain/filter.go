package domain

// OrderFilter narrows an order listing. Empty fields match everything.
type OrderFilter struct {
	Status       OrderStatus
	CustomerID   string
	RestaurantID string
	DriverID     string
	Page         int
	Limit        int
}

func (f OrderFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// DeliveryFilter narrows a delivery listing.
type DeliveryFilter struct {
	OrderID string
	Page    int
	Limit   int
}

func (f DeliveryFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
