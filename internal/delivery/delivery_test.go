package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
	"github.com/joao-fontenele/foodflow/internal/messaging"
	"github.com/joao-fontenele/foodflow/internal/testutil"
)

const orderID = "88888888-8888-4888-8888-888888888888"

var fixedNow = time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)

type fixture struct {
	store   *testutil.Store
	broker  *messaging.Memory
	alloc   *Allocator
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	testutil.Seed(store)
	broker := messaging.NewMemory()
	emitter := messaging.NewEmitter(broker, zap.NewNop())

	return &fixture{
		store:  store,
		broker: broker,
		alloc: NewAllocator(store.Orders(), store.Drivers(), store.Deliveries(), store, emitter, zap.NewNop()),
		tracker: NewTracker(store.Deliveries(), store.Orders(), store, emitter, zap.NewNop(),
			WithClock(testutil.Clock(fixedNow))),
	}
}

func readyEvent(id string) events.OrderReadyEvent {
	o := testutil.Order(id, domain.OrderStatusReady)
	return events.NewOrderReady(&o)
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := f.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestAllocator_AssignsAvailableDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusReady))

	require.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(orderID)))

	o := f.order(t, orderID)
	require.NotNil(t, o.DriverID)
	assert.Equal(t, testutil.DriverID, *o.DriverID)

	driver, err := f.store.Drivers().Get(ctx, testutil.DriverID)
	require.NoError(t, err)
	assert.False(t, driver.IsAvailable)

	d, err := f.store.Deliveries().GetByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Nil(t, d.PickedUpAt)

	published := f.broker.Published(events.DriverAssigned)
	require.Len(t, published, 1)
	evt, err := events.Decode[events.DriverAssignedEvent](published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, testutil.DriverID, evt.DriverID)
	assert.Equal(t, "Dana Driver", evt.DriverName)
	assert.Equal(t, "5550100", evt.DriverPhone)
}

func TestAllocator_RedeliveryAssignsNothingTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddDriver(testutil.Driver("99999999-9999-4999-8999-999999999999", "Second Driver"))
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusReady))

	require.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(orderID)))
	require.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(orderID)))

	available := true
	free, err := f.store.Drivers().List(ctx, &available)
	require.NoError(t, err)
	assert.Len(t, free, 1)
	assert.Len(t, f.broker.Published(events.DriverAssigned), 1)

	_, total, err := f.store.Deliveries().List(ctx, domain.DeliveryFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestAllocator_NoDriverAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Drivers().SetAvailability(ctx, testutil.DriverID, false)
	require.NoError(t, err)
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusReady))

	require.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(orderID)))

	o := f.order(t, orderID)
	assert.Equal(t, domain.OrderStatusReady, o.Status)
	assert.Nil(t, o.DriverID)
	assert.Empty(t, f.broker.Published(events.DriverAssigned))
}

func TestAllocator_SkipsOrdersNotReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusPreparing))

	require.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(orderID)))

	driver, err := f.store.Drivers().Get(ctx, testutil.DriverID)
	require.NoError(t, err)
	assert.True(t, driver.IsAvailable)
	_, err = f.store.Deliveries().GetByOrder(ctx, orderID)
	assert.ErrorIs(t, err, apperr.ErrDeliveryNotFound)
}

func TestAllocator_FailureReleasesClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusReady))
	f.store.FailNext("orders.Update", errors.New("connection reset"))

	err := f.alloc.HandleOrderReady(ctx, readyEvent(orderID))

	require.Error(t, err)
	driver, err := f.store.Drivers().Get(ctx, testutil.DriverID)
	require.NoError(t, err)
	assert.True(t, driver.IsAvailable, "claim rolls back with the order update")
	assert.Nil(t, f.order(t, orderID).DriverID)
}

func TestAllocator_ConcurrentOrdersNeverShareADriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := []string{
		"a0000000-0000-4000-8000-000000000001",
		"a0000000-0000-4000-8000-000000000002",
		"a0000000-0000-4000-8000-000000000003",
		"a0000000-0000-4000-8000-000000000004",
	}
	f.store.AddDriver(testutil.Driver("b0000000-0000-4000-8000-000000000001", "Second Driver"))
	for _, id := range ids {
		f.store.AddOrder(testutil.Order(id, domain.OrderStatusReady))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(id)))
		}(id)
	}
	wg.Wait()

	assigned := map[string]string{}
	for _, id := range ids {
		o := f.order(t, id)
		if o.DriverID == nil {
			continue
		}
		prev, dup := assigned[*o.DriverID]
		assert.False(t, dup, "driver %s assigned to %s and %s", *o.DriverID, prev, id)
		assigned[*o.DriverID] = id
	}
	assert.Len(t, assigned, 2)
}

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusReady))
	require.NoError(t, f.alloc.HandleOrderReady(ctx, readyEvent(orderID)))

	d, err := f.store.Deliveries().GetByOrder(ctx, orderID)
	require.NoError(t, err)

	_, err = f.tracker.MarkDelivered(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotPickedUp)

	picked, err := f.tracker.MarkPickedUp(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, *picked.PickedUpAt)

	_, err = f.tracker.MarkPickedUp(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPickedUp)

	delivered, err := f.tracker.MarkDelivered(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, *delivered.DeliveredAt)

	_, err = f.tracker.MarkDelivered(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDelivered)

	pickups := f.broker.Published(events.OrderPickedUp)
	require.Len(t, pickups, 1)
	pickup, err := events.Decode[events.OrderPickedUpEvent](pickups[0].Body)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, pickup.PickedUpAt)
	assert.Equal(t, testutil.DriverID, pickup.DriverID)
	assert.Equal(t, testutil.CustomerID, pickup.CustomerID)

	drops := f.broker.Published(events.OrderDelivered)
	require.Len(t, drops, 1)
	drop, err := events.Decode[events.OrderDeliveredEvent](drops[0].Body)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, drop.DeliveredAt)
}

func TestTracker_UnknownDelivery(t *testing.T) {
	f := newFixture(t)

	_, err := f.tracker.MarkPickedUp(context.Background(), orderID)
	assert.ErrorIs(t, err, apperr.ErrDeliveryNotFound)
}

func TestTracker_MirrorPickup(t *testing.T) {
	ctx := context.Background()
	pickedUpAt := fixedNow.Add(-5 * time.Minute)
	order := testutil.Order(orderID, domain.OrderStatusPickedUp)

	t.Run("stamps an unpicked delivery", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddOrder(order)

		require.NoError(t, f.tracker.HandleOrderPickedUp(ctx, events.NewOrderPickedUp(&order, pickedUpAt)))

		d, err := f.store.Deliveries().GetByOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, pickedUpAt, *d.PickedUpAt)
	})

	t.Run("keeps an earlier stamp", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddOrder(order)
		require.NoError(t, f.tracker.HandleOrderPickedUp(ctx, events.NewOrderPickedUp(&order, pickedUpAt)))

		require.NoError(t, f.tracker.HandleOrderPickedUp(ctx, events.NewOrderPickedUp(&order, fixedNow)))

		d, err := f.store.Deliveries().GetByOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, pickedUpAt, *d.PickedUpAt)
	})
}

func TestTracker_Administration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddOrder(testutil.Order(orderID, domain.OrderStatusConfirmed))

	d, err := f.tracker.Create(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderID, d.OrderID)

	_, err = f.tracker.Create(ctx, orderID)
	assert.ErrorIs(t, err, apperr.ErrDeliveryAlreadyExists)

	_, err = f.tracker.Create(ctx, "c0000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	_, err = f.tracker.Create(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	byOrder, err := f.tracker.GetByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, byOrder.ID)

	require.NoError(t, f.tracker.Remove(ctx, d.ID))
	_, err = f.tracker.Get(ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrDeliveryNotFound)
	assert.ErrorIs(t, f.tracker.Remove(ctx, d.ID), apperr.ErrDeliveryNotFound)
}

func TestConsumer_Routes(t *testing.T) {
	f := newFixture(t)
	consumer := NewConsumer(f.alloc, f.tracker, zap.NewNop())

	assert.ElementsMatch(t, messaging.DeliverySubscription.RoutingKeys, consumer.Subscription().RoutingKeys)
}
