package messaging

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/events"
)

// Emitter publishes domain events after their state change has committed.
// Failures are logged and never reported back to the business operation.
type Emitter struct {
	pub       Publisher
	logger    *zap.Logger
	published metric.Int64Counter
}

func NewEmitter(pub Publisher, logger *zap.Logger) *Emitter {
	published, _ := otel.Meter("foodflow/messaging").Int64Counter("foodflow.events.published",
		metric.WithDescription("Events published, by routing key and result"))

	return &Emitter{pub: pub, logger: logger, published: published}
}

func (e *Emitter) Emit(ctx context.Context, evt events.Event) {
	meta := evt.Meta()
	logger := e.logger.With(
		zap.String("routing_key", evt.RoutingKey()),
		zap.String("event_id", meta.EventID),
		zap.String("order_id", evt.PartitionKey()),
	)

	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("failed to encode event", zap.Error(err))
		e.record(ctx, evt.RoutingKey(), false)
		return
	}

	err = e.pub.Publish(ctx, Message{
		RoutingKey: evt.RoutingKey(),
		Key:        evt.PartitionKey(),
		Body:       body,
	})
	if err != nil {
		logger.Error("failed to publish event", zap.Error(err))
		e.record(ctx, evt.RoutingKey(), false)
		return
	}

	logger.Info("event published")
	e.record(ctx, evt.RoutingKey(), true)
}

func (e *Emitter) record(ctx context.Context, routingKey string, ok bool) {
	if e.published == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	e.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("routing_key", routingKey),
		attribute.String("result", result),
	))
}
