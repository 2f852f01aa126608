package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
	"github.com/joao-fontenele/foodflow/internal/messaging"
	"github.com/joao-fontenele/foodflow/internal/testutil"
)

var fixedNow = time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)

type fixture struct {
	store  *testutil.Store
	broker *messaging.Memory
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	testutil.Seed(store)
	broker := messaging.NewMemory()
	svc := NewService(store.Orders(), store.Catalog(), store.Drivers(), store,
		messaging.NewEmitter(broker, zap.NewNop()), zap.NewNop(), WithClock(testutil.Clock(fixedNow)))
	return &fixture{store: store, broker: broker, svc: svc}
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := f.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) driver(t *testing.T, id string) *domain.Driver {
	t.Helper()
	d, err := f.store.Drivers().Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

func validInput() PlaceOrderInput {
	return PlaceOrderInput{
		CustomerID:      testutil.CustomerID,
		RestaurantID:    testutil.RestaurantID,
		DeliveryAddress: "221B Baker Street",
		Items: []PlaceOrderItem{
			{MenuItemID: testutil.BurgerID, Quantity: 2},
			{MenuItemID: testutil.FriesID, Quantity: 1},
		},
	}
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.PlaceOrder(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("13.50").Equal(order.TotalAmount), "total %s", order.TotalAmount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, testutil.BurgerID, order.Items[0].MenuItemID)
	assert.True(t, decimal.RequireFromString("5.00").Equal(order.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("10.00").Equal(order.Items[0].Subtotal))
	assert.Equal(t, fixedNow, order.OrderDate)

	stored := f.order(t, order.ID)
	assert.Len(t, stored.Items, 2)

	published := f.broker.Published(events.OrderPlaced)
	require.Len(t, published, 1)
	evt, err := events.Decode[events.OrderPlacedEvent](published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, order.ID, evt.OrderID)
	assert.Len(t, evt.Items, 2)
	assert.True(t, decimal.RequireFromString("13.50").Equal(evt.TotalAmount))
}

func TestPlaceOrder_SnapshotsPrice(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.PlaceOrder(context.Background(), validInput())
	require.NoError(t, err)

	f.store.AddMenuItem(domain.MenuItem{ID: testutil.BurgerID, RestaurantID: testutil.RestaurantID,
		Name: "Classic Burger", Price: decimal.RequireFromString("9.99"), IsAvailable: true})

	stored := f.order(t, order.ID)
	assert.True(t, decimal.RequireFromString("5.00").Equal(stored.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("13.50").Equal(stored.TotalAmount))
}

func TestPlaceOrder_Rejections(t *testing.T) {
	const unknownID = "00000000-0000-4000-8000-000000000000"

	tests := []struct {
		name   string
		modify func(in *PlaceOrderInput)
		want   *apperr.Error
	}{
		{"unknown customer", func(in *PlaceOrderInput) { in.CustomerID = unknownID }, apperr.ErrCustomerNotFound},
		{"unknown restaurant", func(in *PlaceOrderInput) { in.RestaurantID = unknownID }, apperr.ErrRestaurantNotFound},
		{"inactive restaurant", func(in *PlaceOrderInput) {
			in.RestaurantID = testutil.ClosedRestaurantID
		}, apperr.ErrRestaurantNotActive},
		{"no items", func(in *PlaceOrderInput) { in.Items = nil }, apperr.ErrEmptyOrder},
		{"zero quantity", func(in *PlaceOrderInput) { in.Items[1].Quantity = 0 }, apperr.ErrInvalidQuantity},
		{"unknown menu item", func(in *PlaceOrderInput) { in.Items[1].MenuItemID = unknownID }, apperr.ErrMenuItemNotFound},
		{"unavailable menu item", func(in *PlaceOrderInput) {
			in.Items[0].MenuItemID = testutil.ShakeID
		}, apperr.ErrMenuItemNotAvailable},
		{"item from another restaurant", func(in *PlaceOrderInput) {
			in.Items[0].MenuItemID = testutil.SoupID
		}, apperr.ErrMenuItemNotInRestaurant},
		{"first violation wins", func(in *PlaceOrderInput) {
			in.Items[0].Quantity = 0
			in.Items[1].MenuItemID = unknownID
		}, apperr.ErrInvalidQuantity},
		{"list order decides", func(in *PlaceOrderInput) {
			in.Items[0].MenuItemID = unknownID
			in.Items[1].Quantity = -1
		}, apperr.ErrMenuItemNotFound},
		{"malformed id", func(in *PlaceOrderInput) { in.CustomerID = "not-a-uuid" }, apperr.ErrInvalidInput},
		{"missing address", func(in *PlaceOrderInput) { in.DeliveryAddress = "  " }, apperr.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tt.modify(&in)

			_, err := f.svc.PlaceOrder(context.Background(), in)

			assert.ErrorIs(t, err, tt.want)
			orders, total, listErr := f.store.Orders().List(context.Background(), domain.OrderFilter{Limit: 10})
			require.NoError(t, listErr)
			assert.Zero(t, total)
			assert.Empty(t, orders)
			assert.Empty(t, f.broker.Published(""))
		})
	}
}

func TestPlaceOrder_StoreFailurePublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext("orders.Create", errors.New("connection refused"))

	_, err := f.svc.PlaceOrder(context.Background(), validInput())

	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, f.broker.Published(""))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.store.AddOrder(testutil.Order("11111111-1111-4111-8111-111111111111", domain.OrderStatusPending))

	order, err := f.svc.UpdateStatus(context.Background(), "11111111-1111-4111-8111-111111111111", domain.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.NotNil(t, order.EstimatedDeliveryTime)
	assert.Equal(t, fixedNow.Add(45*time.Minute), *order.EstimatedDeliveryTime)
	assert.Equal(t, 2, order.Version)

	_, err = f.svc.UpdateStatus(context.Background(), order.ID, domain.OrderStatusConfirmed)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(context.Background(), order.ID, "SHIPPED")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	assert.Empty(t, f.broker.Published(""))
}

func TestUpdate_StaleVersionIsRejected(t *testing.T) {
	f := newFixture(t)
	const id = "11111111-1111-4111-8111-111111111112"
	f.store.AddOrder(testutil.Order(id, domain.OrderStatusPending))

	stale := f.order(t, id)
	_, err := f.svc.UpdateStatus(context.Background(), id, domain.OrderStatusConfirmed)
	require.NoError(t, err)

	stale.Status = domain.OrderStatusCancelled
	err = f.store.Orders().Update(context.Background(), stale)

	assert.ErrorIs(t, err, apperr.ErrConcurrentUpdate)
	assert.Equal(t, domain.OrderStatusConfirmed, f.order(t, id).Status)
}

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		status domain.OrderStatus
		want   error
	}{
		{domain.OrderStatusPending, nil},
		{domain.OrderStatusConfirmed, nil},
		{domain.OrderStatusPreparing, nil},
		{domain.OrderStatusReady, apperr.ErrInvalidTransition},
		{domain.OrderStatusPickedUp, apperr.ErrInvalidTransition},
		{domain.OrderStatusDelivered, apperr.ErrAlreadyDelivered},
		{domain.OrderStatusCancelled, apperr.ErrAlreadyCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			f := newFixture(t)
			id := "22222222-2222-4222-8222-222222222222"
			f.store.AddOrder(testutil.Order(id, tt.status))

			order, err := f.svc.CancelOrder(context.Background(), id)

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, tt.status, f.order(t, id).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		})
	}
}

func TestAssignDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := "33333333-3333-4333-8333-333333333331"
	second := "33333333-3333-4333-8333-333333333332"
	f.store.AddOrder(testutil.Order(first, domain.OrderStatusReady))
	f.store.AddOrder(testutil.Order(second, domain.OrderStatusReady))

	order, err := f.svc.AssignDriver(ctx, first, testutil.DriverID)
	require.NoError(t, err)
	require.NotNil(t, order.DriverID)
	assert.Equal(t, testutil.DriverID, *order.DriverID)
	assert.False(t, f.driver(t, testutil.DriverID).IsAvailable)

	published := f.broker.Published(events.DriverAssigned)
	require.Len(t, published, 1)
	evt, err := events.Decode[events.DriverAssignedEvent](published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "Dana Driver", evt.DriverName)

	_, err = f.svc.AssignDriver(ctx, second, testutil.DriverID)
	assert.ErrorIs(t, err, apperr.ErrDriverNotAvailable)
	assert.Nil(t, f.order(t, second).DriverID)

	_, err = f.svc.AssignDriver(ctx, second, "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrDriverNotFound)
}

func TestListOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i, status := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusReady, domain.OrderStatusPending} {
		o := testutil.Order("44444444-4444-4444-8444-44444444444"+string(rune('0'+i)), status)
		o.OrderDate = o.OrderDate.Add(time.Duration(i) * time.Minute)
		f.store.AddOrder(o)
	}

	orders, total, err := f.svc.ListOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusPending, Page: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, orders, 1)
	assert.Equal(t, "44444444-4444-4444-8444-444444444442", orders[0].ID)

	_, _, err = f.svc.ListOrders(ctx, domain.OrderFilter{Status: "LOST"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
