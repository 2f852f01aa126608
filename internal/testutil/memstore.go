// Package testutil holds in-memory stand-ins for the Postgres repositories.
// They follow the same error contract, so services can be exercised without
// a database.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
)

type txKey struct{}

// Store keeps every table in memory. WithinTx serialises transactions and
// restores a snapshot when the function fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders      map[string]domain.Order
	drivers     map[string]domain.Driver
	deliveries  map[string]domain.Delivery
	customers   map[string]domain.Customer
	restaurants map[string]domain.Restaurant
	menu        map[string]domain.MenuItem

	failures map[string]error
}

func NewStore() *Store {
	return &Store{
		orders:      make(map[string]domain.Order),
		drivers:     make(map[string]domain.Driver),
		deliveries:  make(map[string]domain.Delivery),
		customers:   make(map[string]domain.Customer),
		restaurants: make(map[string]domain.Restaurant),
		menu:        make(map[string]domain.MenuItem),
		failures:    make(map[string]error),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// FailNext makes the next call to op return err. Ops are named
// "<table>.<Method>", for example "drivers.SetAvailability".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

type snapshot struct {
	orders     map[string]domain.Order
	drivers    map[string]domain.Driver
	deliveries map[string]domain.Delivery
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		orders:     make(map[string]domain.Order, len(s.orders)),
		drivers:    make(map[string]domain.Driver, len(s.drivers)),
		deliveries: make(map[string]domain.Delivery, len(s.deliveries)),
	}
	for k, v := range s.orders {
		snap.orders[k] = cloneOrder(v)
	}
	for k, v := range s.drivers {
		snap.drivers[k] = v
	}
	for k, v := range s.deliveries {
		snap.deliveries[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = snap.orders
	s.drivers = snap.drivers
	s.deliveries = snap.deliveries
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem{}, o.Items...)
	return o
}

func (s *Store) AddCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *Store) AddRestaurant(r domain.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.ID] = r
}

func (s *Store) AddMenuItem(m domain.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu[m.ID] = m
}

func (s *Store) AddDriver(d domain.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Version == 0 {
		d.Version = 1
	}
	s.drivers[d.ID] = d
}

func (s *Store) AddOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Version == 0 {
		o.Version = 1
	}
	s.orders[o.ID] = cloneOrder(o)
}

func (s *Store) AddDelivery(d domain.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
}

func (s *Store) Orders() *Orders         { return &Orders{s: s} }
func (s *Store) Drivers() *Drivers       { return &Drivers{s: s} }
func (s *Store) Deliveries() *Deliveries { return &Deliveries{s: s} }
func (s *Store) Catalog() *Catalog       { return &Catalog{s: s} }

// Orders mirrors orders.Repository.
type Orders struct{ s *Store }

func (r *Orders) Create(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("orders.Create"); err != nil {
		return err
	}
	if _, ok := r.s.orders[o.ID]; ok {
		return errors.New("duplicate order id")
	}
	r.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r *Orders) Get(_ context.Context, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *Orders) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *Orders) Update(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("orders.Update"); err != nil {
		return err
	}
	stored, ok := r.s.orders[o.ID]
	if !ok {
		return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", o.ID)
	}
	if stored.Version != o.Version {
		return apperr.Conflict(apperr.CodeConcurrentUpdate, "order %s was modified concurrently", o.ID)
	}
	o.Version++
	r.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r *Orders) List(_ context.Context, f domain.OrderFilter) ([]domain.Order, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []domain.Order
	for _, o := range r.s.orders {
		switch {
		case f.Status != "" && o.Status != f.Status:
		case f.CustomerID != "" && o.CustomerID != f.CustomerID:
		case f.RestaurantID != "" && o.RestaurantID != f.RestaurantID:
		case f.DriverID != "" && (o.DriverID == nil || *o.DriverID != f.DriverID):
		default:
			matched = append(matched, cloneOrder(o))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OrderDate.Equal(matched[j].OrderDate) {
			return matched[i].OrderDate.After(matched[j].OrderDate)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, f.Offset(), f.Limit), len(matched), nil
}

// Drivers mirrors drivers.Repository.
type Drivers struct{ s *Store }

func (r *Drivers) Get(_ context.Context, id string) (*domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.drivers[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeDriverNotFound, "driver %s not found", id)
	}
	return &d, nil
}

func (r *Drivers) List(_ context.Context, available *bool) ([]domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	drivers := []domain.Driver{}
	for _, d := range r.s.drivers {
		if available == nil || d.IsAvailable == *available {
			drivers = append(drivers, d)
		}
	}
	sort.Slice(drivers, func(i, j int) bool {
		if drivers[i].Name != drivers[j].Name {
			return drivers[i].Name < drivers[j].Name
		}
		return drivers[i].ID < drivers[j].ID
	})
	return drivers, nil
}

// ClaimAvailable picks the longest idle available driver, like the SQL claim.
func (r *Drivers) ClaimAvailable(_ context.Context) (*domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("drivers.ClaimAvailable"); err != nil {
		return nil, err
	}

	var candidate *domain.Driver
	for _, d := range r.s.drivers {
		if !d.IsAvailable {
			continue
		}
		if candidate == nil || d.UpdatedAt.Before(candidate.UpdatedAt) ||
			(d.UpdatedAt.Equal(candidate.UpdatedAt) && d.ID < candidate.ID) {
			d := d
			candidate = &d
		}
	}
	if candidate == nil {
		return nil, nil
	}
	r.s.setAvailability(candidate, false)
	return candidate, nil
}

func (r *Drivers) Reserve(_ context.Context, id string) (*domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.drivers[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeDriverNotFound, "driver %s not found", id)
	}
	if !d.IsAvailable {
		return nil, apperr.Conflict(apperr.CodeDriverNotAvailable, "driver %s is not available", id)
	}
	r.s.setAvailability(&d, false)
	return &d, nil
}

func (r *Drivers) SetAvailability(_ context.Context, id string, available bool) (*domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("drivers.SetAvailability"); err != nil {
		return nil, err
	}
	d, ok := r.s.drivers[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeDriverNotFound, "driver %s not found", id)
	}
	r.s.setAvailability(&d, available)
	return &d, nil
}

func (s *Store) setAvailability(d *domain.Driver, available bool) {
	d.IsAvailable = available
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	s.drivers[d.ID] = *d
}

// Deliveries mirrors delivery.Repository.
type Deliveries struct{ s *Store }

func (r *Deliveries) Create(_ context.Context, d *domain.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.deliveries {
		if existing.OrderID == d.OrderID {
			return apperr.AlreadyExists(apperr.CodeDeliveryAlreadyExists,
				"delivery for order %s already exists", d.OrderID)
		}
	}
	r.s.deliveries[d.ID] = *d
	return nil
}

func (r *Deliveries) Get(_ context.Context, id string) (*domain.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeDeliveryNotFound, "delivery %s not found", id)
	}
	return &d, nil
}

func (r *Deliveries) GetForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.Get(ctx, id)
}

func (r *Deliveries) GetByOrder(_ context.Context, orderID string) (*domain.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.deliveries {
		if d.OrderID == orderID {
			return &d, nil
		}
	}
	return nil, apperr.NotFound(apperr.CodeDeliveryNotFound, "no delivery for order %s", orderID)
}

func (r *Deliveries) Update(_ context.Context, d *domain.Delivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deliveries[d.ID]; !ok {
		return apperr.NotFound(apperr.CodeDeliveryNotFound, "delivery %s not found", d.ID)
	}
	r.s.deliveries[d.ID] = *d
	return nil
}

func (r *Deliveries) List(_ context.Context, f domain.DeliveryFilter) ([]domain.Delivery, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []domain.Delivery
	for _, d := range r.s.deliveries {
		if f.OrderID == "" || d.OrderID == f.OrderID {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, f.Offset(), f.Limit), len(matched), nil
}

func (r *Deliveries) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deliveries[id]; !ok {
		return apperr.NotFound(apperr.CodeDeliveryNotFound, "delivery %s not found", id)
	}
	delete(r.s.deliveries, id)
	return nil
}

// Catalog mirrors catalog.Repository.
type Catalog struct{ s *Store }

func (r *Catalog) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeCustomerNotFound, "customer %s not found", id)
	}
	return &c, nil
}

func (r *Catalog) GetRestaurant(_ context.Context, id string) (*domain.Restaurant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rest, ok := r.s.restaurants[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeRestaurantNotFound, "restaurant %s not found", id)
	}
	return &rest, nil
}

func (r *Catalog) GetMenuItems(_ context.Context, ids []string) (map[string]domain.MenuItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make(map[string]domain.MenuItem, len(ids))
	for _, id := range ids {
		if m, ok := r.s.menu[id]; ok {
			items[id] = m
		}
	}
	return items, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	out := []T{}
	if offset >= len(items) {
		return out
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append(out, items[offset:end]...)
}
