package drivers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/store"
)

const driverColumns = `id, name, phone, email, vehicle_type, is_available, version, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDriver(row scanner) (*domain.Driver, error) {
	d := &domain.Driver{}
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Email, &d.VehicleType,
		&d.IsAvailable, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Driver, error) {
	d, err := scanDriver(store.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeDriverNotFound, "driver %s not found", id)
		}
		return nil, fmt.Errorf("get driver: %w", err)
	}
	return d, nil
}

// List returns all drivers, or only those matching available when it is set.
func (r *Repository) List(ctx context.Context, available *bool) ([]domain.Driver, error) {
	rows, err := store.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+driverColumns+`
		FROM drivers
		WHERE $1::boolean IS NULL OR is_available = $1
		ORDER BY name, id
	`, nullBool(available))
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	drivers := []domain.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		drivers = append(drivers, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drivers: %w", err)
	}

	return drivers, nil
}

// ClaimAvailable flips one available driver to unavailable and returns it.
// Rows locked by a concurrent claim are skipped, so two claims never return
// the same driver. It returns nil when no driver is available.
func (r *Repository) ClaimAvailable(ctx context.Context) (*domain.Driver, error) {
	d, err := scanDriver(store.Conn(ctx, r.db).QueryRowContext(ctx, `
		UPDATE drivers
		SET is_available = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM drivers
			WHERE is_available
			ORDER BY updated_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+driverColumns))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim driver: %w", err)
	}
	return d, nil
}

// Reserve flips a specific driver to unavailable.
func (r *Repository) Reserve(ctx context.Context, id string) (*domain.Driver, error) {
	d, err := scanDriver(store.Conn(ctx, r.db).QueryRowContext(ctx, `
		UPDATE drivers
		SET is_available = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_available
		RETURNING `+driverColumns, id))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reserve driver: %w", err)
	}

	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, apperr.Conflict(apperr.CodeDriverNotAvailable, "driver %s is not available", id)
}

func (r *Repository) SetAvailability(ctx context.Context, id string, available bool) (*domain.Driver, error) {
	d, err := scanDriver(store.Conn(ctx, r.db).QueryRowContext(ctx, `
		UPDATE drivers
		SET is_available = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+driverColumns, id, available))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(apperr.CodeDriverNotFound, "driver %s not found", id)
		}
		return nil, fmt.Errorf("set driver availability: %w", err)
	}
	return d, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
