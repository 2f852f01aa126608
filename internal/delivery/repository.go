package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/store"
)

const deliveryColumns = `id, order_id, picked_up_at, delivered_at, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row scanner) (*domain.Delivery, error) {
	var (
		d           domain.Delivery
		pickedUpAt  sql.NullTime
		deliveredAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.OrderID, &pickedUpAt, &deliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.PickedUpAt = store.TimePtr(pickedUpAt)
	d.DeliveredAt = store.TimePtr(deliveredAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

// Create inserts d. A second delivery for the same order fails with
// AlreadyExists.
func (r *Repository) Create(ctx context.Context, d *domain.Delivery) error {
	_, err := store.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO deliveries (id, order_id, picked_up_at, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.OrderID, store.NullTime(d.PickedUpAt), store.NullTime(d.DeliveredAt), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.AlreadyExists(apperr.CodeDeliveryAlreadyExists,
				"delivery for order %s already exists", d.OrderID)
		}
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
}

// GetForUpdate locks the delivery row until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (*domain.Delivery, error) {
	d, err := scanDelivery(store.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeDeliveryNotFound, "no delivery for order %s", orderID)
		}
		return nil, fmt.Errorf("get delivery by order: %w", err)
	}
	return d, nil
}

func (r *Repository) get(ctx context.Context, query, id string) (*domain.Delivery, error) {
	d, err := scanDelivery(store.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeDeliveryNotFound, "delivery %s not found", id)
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

func (r *Repository) Update(ctx context.Context, d *domain.Delivery) error {
	result, err := store.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE deliveries
		SET picked_up_at = $2, delivered_at = $3, updated_at = $4
		WHERE id = $1
	`, d.ID, store.NullTime(d.PickedUpAt), store.NullTime(d.DeliveredAt), d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(apperr.CodeDeliveryNotFound, "delivery %s not found", d.ID)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, f domain.DeliveryFilter) ([]domain.Delivery, int, error) {
	conn := store.Conn(ctx, r.db)
	orderID := sql.NullString{String: f.OrderID, Valid: f.OrderID != ""}

	var total int
	err := conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM deliveries WHERE $1::uuid IS NULL OR order_id = $1
	`, orderID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE $1::uuid IS NULL OR order_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, orderID, f.Limit, f.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deliveries := []domain.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, total, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := store.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM deliveries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(apperr.CodeDeliveryNotFound, "delivery %s not found", id)
	}
	return nil
}
