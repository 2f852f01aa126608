package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/store"
)

// Repository reads the customer, restaurant and menu records that order
// placement validates against. Those records are managed elsewhere.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c := &domain.Customer{}

	err := store.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeCustomerNotFound, "customer %s not found", id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return c, nil
}

func (r *Repository) GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	rest := &domain.Restaurant{}

	err := store.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name, is_active
		FROM restaurants
		WHERE id = $1
	`, id).Scan(&rest.ID, &rest.Name, &rest.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeRestaurantNotFound, "restaurant %s not found", id)
		}
		return nil, fmt.Errorf("get restaurant: %w", err)
	}

	return rest, nil
}

// GetMenuItems loads the given menu items in one query. Missing ids are
// simply absent from the result.
func (r *Repository) GetMenuItems(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	items := make(map[string]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	rows, err := store.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, restaurant_id, name, price, is_available
		FROM menu_items
		WHERE id = ANY($1::uuid[])
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get menu items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Price, &item.IsAvailable); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items[item.ID] = item
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}

	return items, nil
}
