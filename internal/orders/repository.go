package orders

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

const orderColumns = `id, customer_id, restaurant_id, driver_id, status, total_amount, delivery_address,
	special_instructions, estimated_delivery_time, version, order_date, updated_at`

// Repository persists orders and their items in Postgres. Every method runs on
// the transaction carried by ctx when there is one.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o            domain.Order
		driverID     sql.NullString
		instructions sql.NullString
		eta          sql.NullTime
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &driverID, &o.Status, &o.TotalAmount,
		&o.DeliveryAddress, &instructions, &eta, &o.Version, &o.OrderDate, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.DriverID = store.StringPtr(driverID)
	o.SpecialInstructions = store.StringPtr(instructions)
	o.EstimatedDeliveryTime = store.TimePtr(eta)
	o.OrderDate = o.OrderDate.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.Items = []domain.OrderItem{}
	return &o, nil
}

// Create inserts the order and its items. Callers run it inside a unit of work
// so the order never exists without its items.
func (r *Repository) Create(ctx context.Context, o *domain.Order) error {
	conn := store.Conn(ctx, r.db)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, restaurant_id, driver_id, status, total_amount,
			delivery_address, special_instructions, estimated_delivery_time, version, order_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, o.CustomerID, o.RestaurantID, store.NullString(o.DriverID), o.Status, o.TotalAmount,
		o.DeliveryAddress, store.NullString(o.SpecialInstructions), store.NullTime(o.EstimatedDeliveryTime),
		o.Version, o.OrderDate, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = conn.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, subtotal, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, o.ID, item.MenuItemID, item.Quantity, item.UnitPrice, item.Subtotal, i)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) get(ctx context.Context, query, id string) (*domain.Order, error) {
	o, err := scanOrder(store.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := r.loadItems(ctx, map[string]*domain.Order{o.ID: o}, []string{o.ID}); err != nil {
		return nil, err
	}
	return o, nil
}

// Update writes the mutable order fields when the stored version still matches
// o.Version, then bumps o.Version. A lost race fails with ConcurrentUpdate.
func (r *Repository) Update(ctx context.Context, o *domain.Order) error {
	result, err := store.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET status = $3, driver_id = $4, estimated_delivery_time = $5,
			updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`, o.ID, o.Version, o.Status, store.NullString(o.DriverID),
		store.NullTime(o.EstimatedDeliveryTime), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, o.ID); err != nil {
			return err
		}
		return apperr.Conflict(apperr.CodeConcurrentUpdate,
			"order %s was modified concurrently", o.ID)
	}

	o.Version++
	return nil
}

// List returns one page of orders matching f, newest first, with the total
// number of matches. Items for the whole page are loaded in one query.
func (r *Repository) List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	conn := store.Conn(ctx, r.db)
	args := []any{
		nullIfEmpty(string(f.Status)),
		nullIfEmpty(f.CustomerID),
		nullIfEmpty(f.RestaurantID),
		nullIfEmpty(f.DriverID),
	}
	const where = `
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::uuid IS NULL OR customer_id = $2)
		  AND ($3::uuid IS NULL OR restaurant_id = $3)
		  AND ($4::uuid IS NULL OR driver_id = $4)`

	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders`+where+`
		ORDER BY order_date DESC, id
		LIMIT $5 OFFSET $6`, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orderMap[o.ID] = o
		orderIDs = append(orderIDs, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}

	if err := r.loadItems(ctx, orderMap, orderIDs); err != nil {
		return nil, 0, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, total, nil
}

func (r *Repository) loadItems(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}

	rows, err := store.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity,
			&item.UnitPrice, &item.Subtotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := orderMap[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
