//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/app"
	"github.com/joao-fontenele/foodflow/internal/config"
	"github.com/joao-fontenele/foodflow/internal/delivery"
	"github.com/joao-fontenele/foodflow/internal/domain"
	"github.com/joao-fontenele/foodflow/internal/drivers"
	"github.com/joao-fontenele/foodflow/internal/events"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
	"github.com/joao-fontenele/foodflow/internal/messaging"
	"github.com/joao-fontenele/foodflow/internal/orders"
	"github.com/joao-fontenele/foodflow/internal/store"
	"github.com/joao-fontenele/foodflow/internal/testutil"
)

const settle = 20 * time.Second

type stack struct {
	t      *testing.T
	db     *sql.DB
	router chi.Router
}

// startStack runs the three areas against Postgres and RabbitMQ, the way the
// separate services would, with all consumers in this process.
func startStack(ctx context.Context, t *testing.T, opts ...messaging.RouterOption) *stack {
	t.Helper()

	pg := SetupPostgres(ctx, t)
	t.Cleanup(pg.Cleanup)
	amqpURL, stopRabbit := SetupRabbitMQ(ctx, t)
	t.Cleanup(stopRabbit)

	db := OpenDB(t, pg.ConnStr)
	logger := zap.NewNop()

	broker, err := app.OpenBroker(config.BrokerConfig{
		Kind:             config.BrokerRabbitMQ,
		RabbitMQURL:      amqpURL,
		RabbitMQExchange: "food_delivery",
		RabbitMQPrefetch: 10,
		MessageTTL:       time.Hour,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	deps := app.Deps{
		Stores:        app.PostgresStores(db),
		Emitter:       messaging.NewEmitter(broker, logger),
		Logger:        logger,
		RouterOptions: opts,
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	router := httpapi.NewRouter(logger, nil)
	for _, build := range []app.AreaBuilder{app.OrdersArea, app.RestaurantsArea, app.DeliveryArea} {
		area := build(deps)
		area.Register(router)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = area.Consumer.Run(consumeCtx, broker)
		}()
	}

	return &stack{t: t, db: db, router: router}
}

func (s *stack) do(method, path, body string, wantStatus int, out any) string {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(s.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	if out != nil {
		require.NoError(s.t, json.Unmarshal(envelope.Data, out))
	}
	return envelope.Error.Code
}

func (s *stack) order(id string) domain.Order {
	s.t.Helper()
	var o domain.Order
	s.do(http.MethodGet, "/orders/"+id, "", http.StatusOK, &o)
	return o
}

func (s *stack) placeAndReady() string {
	s.t.Helper()
	body := fmt.Sprintf(`{
		"customer_id": %q,
		"restaurant_id": %q,
		"delivery_address": "742 Evergreen Terrace",
		"items": [{"menu_item_id": %q, "quantity": 2}, {"menu_item_id": %q, "quantity": 1}]
	}`, testutil.CustomerID, testutil.RestaurantID, testutil.BurgerID, testutil.FriesID)

	var placed domain.Order
	s.do(http.MethodPost, "/orders", body, http.StatusCreated, &placed)
	require.Equal(s.t, domain.OrderStatusPending, placed.Status)
	require.True(s.t, decimal.RequireFromString("13.50").Equal(placed.TotalAmount))

	s.do(http.MethodPost, "/restaurants/orders/"+placed.ID+"/confirm", "", http.StatusOK, nil)
	s.do(http.MethodPost, "/restaurants/orders/"+placed.ID+"/prepare", "", http.StatusOK, nil)
	s.do(http.MethodPost, "/restaurants/orders/"+placed.ID+"/ready", "", http.StatusOK, nil)
	return placed.ID
}

func TestFulfillmentOverRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := startStack(ctx, t)
	orderID := s.placeAndReady()

	require.Eventually(t, func() bool {
		o := s.order(orderID)
		return o.DriverID != nil && *o.DriverID == testutil.DriverID
	}, settle, 200*time.Millisecond, "driver assigned after order.ready")

	var driver domain.Driver
	s.do(http.MethodGet, "/drivers/"+testutil.DriverID, "", http.StatusOK, &driver)
	assert.False(t, driver.IsAvailable)

	var d domain.Delivery
	s.do(http.MethodGet, "/deliveries/order/"+orderID, "", http.StatusOK, &d)

	s.do(http.MethodPatch, "/deliveries/"+d.ID+"/picked-up", "", http.StatusOK, nil)
	require.Eventually(t, func() bool {
		return s.order(orderID).Status == domain.OrderStatusPickedUp
	}, settle, 200*time.Millisecond)

	code := s.do(http.MethodPatch, "/deliveries/"+d.ID+"/picked-up", "", http.StatusConflict, nil)
	assert.Equal(t, "ALREADY_PICKED_UP", code)

	s.do(http.MethodPatch, "/deliveries/"+d.ID+"/delivered", "", http.StatusOK, nil)
	require.Eventually(t, func() bool {
		var dr domain.Driver
		s.do(http.MethodGet, "/drivers/"+testutil.DriverID, "", http.StatusOK, &dr)
		return s.order(orderID).Status == domain.OrderStatusDelivered && dr.IsAvailable
	}, settle, 200*time.Millisecond, "order delivered and driver released")
}

func TestNoDriverAvailableOverRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	s := startStack(ctx, t)
	s.do(http.MethodPatch, "/drivers/"+testutil.DriverID+"/availability", `{"is_available":false}`, http.StatusOK, nil)

	orderID := s.placeAndReady()

	// The delivery record appears once order.ready has been consumed.
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/deliveries/order/"+orderID, nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec.Code == http.StatusOK
	}, settle, 200*time.Millisecond)

	o := s.order(orderID)
	assert.Equal(t, domain.OrderStatusReady, o.Status)
	assert.Nil(t, o.DriverID)
}

func TestConcurrentAllocationNeverSharesADriver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	for i := 2; i <= 3; i++ {
		_, err := db.ExecContext(ctx,
			`INSERT INTO drivers (id, name, phone, email) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), fmt.Sprintf("Driver %d", i), fmt.Sprintf("555010%d", i), fmt.Sprintf("driver%d@example.com", i))
		require.NoError(t, err)
	}

	orderRepo := orders.NewRepository(db)
	var orderIDs []string
	for i := 0; i < 6; i++ {
		o := testutil.Order(uuid.NewString(), domain.OrderStatusReady)
		require.NoError(t, orderRepo.Create(ctx, &o))
		orderIDs = append(orderIDs, o.ID)
	}

	broker := messaging.NewMemory()
	alloc := delivery.NewAllocator(orderRepo, drivers.NewRepository(db), delivery.NewRepository(db),
		store.NewUnitOfWork(db), messaging.NewEmitter(broker, zap.NewNop()), zap.NewNop())

	var wg sync.WaitGroup
	for _, id := range orderIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := testutil.Order(id, domain.OrderStatusReady)
			assert.NoError(t, alloc.HandleOrderReady(ctx, events.NewOrderReady(&o)))
		}()
	}
	wg.Wait()

	assigned := map[string]string{}
	for _, id := range orderIDs {
		o, err := orderRepo.Get(ctx, id)
		require.NoError(t, err)
		if o.DriverID == nil {
			continue
		}
		prev, dup := assigned[*o.DriverID]
		assert.False(t, dup, "driver %s assigned to %s and %s", *o.DriverID, prev, id)
		assigned[*o.DriverID] = id
	}
	assert.Len(t, assigned, 3)
	assert.Len(t, broker.Published(events.DriverAssigned), 3)

	var available int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drivers WHERE is_available`).Scan(&available))
	assert.Zero(t, available)
}

func TestRedisDeduplicator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	redisURL, stop := SetupRedis(ctx, t)
	defer stop()

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	dedup := messaging.NewRedisDeduplicator(rdb, time.Hour, time.Minute)

	fresh, err := dedup.Claim(ctx, messaging.DeliveryQueue, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	_, err = dedup.Claim(ctx, messaging.DeliveryQueue, "evt-1")
	assert.ErrorIs(t, err, messaging.ErrClaimInFlight, "unsettled claim")

	fresh, err = dedup.Claim(ctx, messaging.OrdersQueue, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh, "claims are per queue")

	require.NoError(t, dedup.Release(ctx, messaging.DeliveryQueue, "evt-1"))
	fresh, err = dedup.Claim(ctx, messaging.DeliveryQueue, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	key := dedup.Key(messaging.DeliveryQueue, "evt-1")
	ttl, err := rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute, "claims expire quickly")

	require.NoError(t, dedup.Complete(ctx, messaging.DeliveryQueue, "evt-1"))
	fresh, err = dedup.Claim(ctx, messaging.DeliveryQueue, "evt-1")
	require.NoError(t, err)
	assert.False(t, fresh, "completed event is a duplicate")

	ttl, err = rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)
}

func TestKafkaBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, stop := SetupKafka(ctx, t)
	defer stop()

	k := messaging.NewKafka(brokers, zap.NewNop(), messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = k.Close() }()

	o := testutil.Order(uuid.NewString(), domain.OrderStatusReady)
	good, err := json.Marshal(events.NewOrderReady(&o))
	require.NoError(t, err)

	require.NoError(t, k.Publish(ctx, messaging.Message{RoutingKey: events.OrderReady, Key: o.ID, Body: []byte(`{"eventType":`)}))
	require.NoError(t, k.Publish(ctx, messaging.Message{RoutingKey: events.OrderReady, Key: o.ID, Body: good}))

	router := messaging.NewRouter(messaging.DeliveryQueue, zap.NewNop())
	got := make(chan string, 1)
	router.Handle(events.OrderReady, messaging.On(func(_ context.Context, evt events.OrderReadyEvent) error {
		got <- evt.OrderID
		return nil
	}))

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() { _ = router.Run(consumeCtx, k) }()

	select {
	case id := <-got:
		assert.Equal(t, o.ID, id)
	case <-ctx.Done():
		t.Fatal("order.ready was not consumed")
	}

	dlq := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     messaging.DeadLetterQueue(messaging.DeliveryQueue),
		Partition: 0,
		MaxWait:   time.Second,
	})
	defer func() { _ = dlq.Close() }()

	msg, err := dlq.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"eventType":`, string(msg.Value))
}
