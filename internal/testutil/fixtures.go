package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/foodflow/internal/domain"
)

// Seed ids match migrations/000002_seed.up.sql.
const (
	CustomerID         = "7d1f6a3e-2c1b-4d0a-9f5e-1a2b3c4d5e01"
	RestaurantID       = "3b8e2f10-6a4c-4c7e-8d21-0f9e8d7c6b01"
	ClosedRestaurantID = "3b8e2f10-6a4c-4c7e-8d21-0f9e8d7c6b02"
	BurgerID           = "5c2d9e4f-1b3a-4e6d-a7c8-9b0a1f2e3d01"
	FriesID            = "5c2d9e4f-1b3a-4e6d-a7c8-9b0a1f2e3d02"
	ShakeID            = "5c2d9e4f-1b3a-4e6d-a7c8-9b0a1f2e3d03"
	SoupID             = "5c2d9e4f-1b3a-4e6d-a7c8-9b0a1f2e3d04"
	DriverID           = "9a7b6c5d-4e3f-4a2b-8c1d-0e9f8a7b6c01"
)

// Seed loads the same catalog and driver the seed migration inserts.
func Seed(s *Store) {
	s.AddCustomer(domain.Customer{ID: CustomerID, Name: "Ada Customer"})
	s.AddRestaurant(domain.Restaurant{ID: RestaurantID, Name: "Burger Yard", IsActive: true})
	s.AddRestaurant(domain.Restaurant{ID: ClosedRestaurantID, Name: "Closed Kitchen", IsActive: false})
	s.AddMenuItem(domain.MenuItem{ID: BurgerID, RestaurantID: RestaurantID, Name: "Classic Burger",
		Price: decimal.RequireFromString("5.00"), IsAvailable: true})
	s.AddMenuItem(domain.MenuItem{ID: FriesID, RestaurantID: RestaurantID, Name: "Fries",
		Price: decimal.RequireFromString("3.50"), IsAvailable: true})
	s.AddMenuItem(domain.MenuItem{ID: ShakeID, RestaurantID: RestaurantID, Name: "Seasonal Shake",
		Price: decimal.RequireFromString("4.25"), IsAvailable: false})
	s.AddMenuItem(domain.MenuItem{ID: SoupID, RestaurantID: ClosedRestaurantID, Name: "Soup",
		Price: decimal.RequireFromString("6.00"), IsAvailable: true})
	s.AddDriver(Driver(DriverID, "Dana Driver"))
}

func Driver(id, name string) domain.Driver {
	return domain.Driver{
		ID:          id,
		Name:        name,
		Phone:       "5550100",
		Email:       name + "@example.com",
		VehicleType: "bike",
		IsAvailable: true,
		Version:     1,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Order builds a stored order in the given state with no items.
func Order(id string, status domain.OrderStatus) domain.Order {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:              id,
		CustomerID:      CustomerID,
		RestaurantID:    RestaurantID,
		Status:          status,
		TotalAmount:     decimal.RequireFromString("10.00"),
		DeliveryAddress: "1 Main St",
		Items:           []domain.OrderItem{},
		Version:         1,
		OrderDate:       now,
		UpdatedAt:       now,
	}
}

// Clock returns a fixed time source.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
