package domain

import "github.com/shopspring/decimal"

type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Restaurant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type MenuItem struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	IsAvailable  bool            `json:"is_available"`
}
