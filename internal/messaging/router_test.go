package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/events"
)

type fakeDedup struct {
	mu       sync.Mutex
	claims   map[string]string
	released []string
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{claims: make(map[string]string)}
}

func (d *fakeDedup) Claim(ctx context.Context, queue, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := queue + ":" + eventID
	switch d.claims[key] {
	case "done":
		return false, nil
	case "processing":
		return false, ErrClaimInFlight
	}
	d.claims[key] = "processing"
	return true, nil
}

func (d *fakeDedup) Complete(ctx context.Context, queue, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[queue+":"+eventID] = "done"
	return nil
}

func (d *fakeDedup) Release(ctx context.Context, queue, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := queue + ":" + eventID
	delete(d.claims, key)
	d.released = append(d.released, key)
	return nil
}

func readyMessage(t *testing.T) Message {
	t.Helper()
	body, err := json.Marshal(events.NewOrderReady(&domain.Order{ID: "order-1", RestaurantID: "r-1"}))
	require.NoError(t, err)
	return Message{RoutingKey: events.OrderReady, Body: body}
}

func TestRouter_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("acks handled events", func(t *testing.T) {
		router := NewRouter(DeliveryQueue, zap.NewNop())
		var got events.OrderReadyEvent
		router.Handle(events.OrderReady, On(func(_ context.Context, evt events.OrderReadyEvent) error {
			got = evt
			return nil
		}))

		require.NoError(t, router.Dispatch(ctx, readyMessage(t)))
		assert.Equal(t, "order-1", got.OrderID)
	})

	t.Run("dead-letters malformed bodies", func(t *testing.T) {
		router := NewRouter(DeliveryQueue, zap.NewNop())
		router.Handle(events.OrderReady, On(func(context.Context, events.OrderReadyEvent) error {
			t.Fatal("handler must not run")
			return nil
		}))

		err := router.Dispatch(ctx, Message{RoutingKey: events.OrderReady, Body: []byte(`{not json`)})
		assert.True(t, errors.Is(err, ErrPermanent))

		err = router.Dispatch(ctx, Message{RoutingKey: events.OrderReady, Body: []byte(`{"eventType":"order.ready"}`)})
		assert.True(t, errors.Is(err, ErrPermanent))
	})

	t.Run("drops choreography errors", func(t *testing.T) {
		router := NewRouter(DeliveryQueue, zap.NewNop())
		router.Handle(events.OrderReady, func(context.Context, Message) error {
			return apperr.NotFound(apperr.CodeOrderNotFound, "order gone")
		})

		assert.NoError(t, router.Dispatch(ctx, readyMessage(t)))
	})

	t.Run("returns infrastructure errors for redelivery", func(t *testing.T) {
		router := NewRouter(DeliveryQueue, zap.NewNop())
		boom := errors.New("connection reset")
		router.Handle(events.OrderReady, func(context.Context, Message) error {
			return boom
		})

		err := router.Dispatch(ctx, readyMessage(t))
		assert.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, ErrPermanent))
	})

	t.Run("acks unknown routing keys", func(t *testing.T) {
		router := NewRouter(DeliveryQueue, zap.NewNop())
		msg := readyMessage(t)
		msg.RoutingKey = "order.unknown"

		assert.NoError(t, router.Dispatch(ctx, msg))
	})
}

func TestRouter_Deduplication(t *testing.T) {
	ctx := context.Background()
	dedup := newFakeDedup()
	router := NewRouter(DeliveryQueue, zap.NewNop(), WithDeduplicator(dedup))

	calls := 0
	failNext := true
	router.Handle(events.OrderReady, func(context.Context, Message) error {
		calls++
		if failNext {
			failNext = false
			return errors.New("db down")
		}
		return nil
	})

	msg := readyMessage(t)

	require.Error(t, router.Dispatch(ctx, msg))
	assert.Len(t, dedup.released, 1, "failed handling releases the claim")

	require.NoError(t, router.Dispatch(ctx, msg))
	require.NoError(t, router.Dispatch(ctx, msg))
	assert.Equal(t, 2, calls, "exact redelivery after success is skipped")
}

func TestRouter_DeduplicationSurvivesCancelledDelivery(t *testing.T) {
	dedup := newFakeDedup()
	router := NewRouter(DeliveryQueue, zap.NewNop(), WithDeduplicator(dedup))

	ctx, shutdown := context.WithCancel(context.Background())
	calls := 0
	router.Handle(events.OrderReady, func(ctx context.Context, _ Message) error {
		calls++
		if calls == 1 {
			shutdown()
		}
		return ctx.Err()
	})

	msg := readyMessage(t)

	err := router.Dispatch(ctx, msg)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrPermanent), "shutdown is requeued")
	assert.Len(t, dedup.released, 1, "claim is released on a cancelled context")

	msg.Redelivered = true
	require.NoError(t, router.Dispatch(context.Background(), msg))
	assert.Equal(t, 2, calls, "redelivery after shutdown is handled again")

	require.NoError(t, router.Dispatch(context.Background(), msg))
	assert.Equal(t, 2, calls, "completed event is skipped")
}

func TestRouter_InFlightClaimIsRequeued(t *testing.T) {
	ctx := context.Background()
	dedup := newFakeDedup()
	router := NewRouter(DeliveryQueue, zap.NewNop(), WithDeduplicator(dedup))
	router.Handle(events.OrderReady, func(context.Context, Message) error {
		t.Fatal("handler must not run while another delivery holds the claim")
		return nil
	})

	msg := readyMessage(t)
	env, err := events.PeekEnvelope(msg.Body)
	require.NoError(t, err)
	_, err = dedup.Claim(ctx, DeliveryQueue, env.EventID)
	require.NoError(t, err)

	err = router.Dispatch(ctx, msg)

	assert.ErrorIs(t, err, ErrClaimInFlight)
	assert.False(t, errors.Is(err, ErrPermanent))
}

func TestRouter_Subscription(t *testing.T) {
	router := NewRouter(OrdersQueue, zap.NewNop())
	noop := func(context.Context, Message) error { return nil }
	router.Handle(events.OrderDelivered, noop)
	router.Handle(events.DriverAssigned, noop)

	sub := router.Subscription()

	assert.Equal(t, OrdersQueue, sub.Queue)
	assert.Equal(t, []string{events.DriverAssigned, events.OrderDelivered}, sub.RoutingKeys)
}

func TestEmitter_PublishesWithRoutingKey(t *testing.T) {
	broker := NewMemory()
	emitter := NewEmitter(broker, zap.NewNop())

	emitter.Emit(context.Background(), events.NewOrderReady(&domain.Order{ID: "order-9"}))

	published := broker.Published(events.OrderReady)
	require.Len(t, published, 1)
	assert.Equal(t, "order-9", published[0].Key)

	evt, err := events.Decode[events.OrderReadyEvent](published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "order-9", evt.OrderID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Message) error {
	return errors.New("broker unavailable")
}

func TestEmitter_SwallowsPublishErrors(t *testing.T) {
	emitter := NewEmitter(failingPublisher{}, zap.NewNop())

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), events.NewOrderReady(&domain.Order{ID: "order-1"}))
	})
}
