package messaging

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
	"github.com/joao-fontenele/foodflow/internal/events"
)

const (
	OutcomeHandled      = "handled"
	OutcomeDuplicate    = "duplicate"
	OutcomeDropped      = "dropped"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRetried      = "retried"
)

// On adapts a typed event handler to a Handler. Undecodable bodies are
// reported as permanent failures.
func On[T events.Event](fn func(ctx context.Context, evt T) error) Handler {
	return func(ctx context.Context, msg Message) error {
		evt, err := events.Decode[T](msg.Body)
		if err != nil {
			return Permanent(err)
		}
		return fn(ctx, evt)
	}
}

// Router dispatches the deliveries of one queue by routing key and applies the
// consumer policy: malformed events are dead-lettered, choreography errors
// (missing records, state conflicts) are logged and acknowledged, anything
// else is returned so the broker redelivers it.
type Router struct {
	queue    string
	routes   map[string]Handler
	logger   *zap.Logger
	dedup    Deduplicator
	consumed metric.Int64Counter
}

type RouterOption func(*Router)

func WithDeduplicator(d Deduplicator) RouterOption {
	return func(r *Router) {
		r.dedup = d
	}
}

func NewRouter(queue string, logger *zap.Logger, opts ...RouterOption) *Router {
	consumed, _ := otel.Meter("foodflow/messaging").Int64Counter("foodflow.events.consumed",
		metric.WithDescription("Events consumed, by queue, routing key and outcome"))

	r := &Router{
		queue:    queue,
		routes:   make(map[string]Handler),
		logger:   logger.With(zap.String("queue", queue)),
		consumed: consumed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Handle(routingKey string, h Handler) {
	r.routes[routingKey] = h
}

func (r *Router) Subscription() Subscription {
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Subscription{Queue: r.queue, RoutingKeys: keys}
}

func (r *Router) Dispatch(ctx context.Context, msg Message) error {
	logger := r.logger.With(zap.String("routing_key", msg.RoutingKey))

	env, err := events.PeekEnvelope(msg.Body)
	if err != nil {
		logger.Error("undecodable event, dead-lettering", zap.Error(err))
		r.record(ctx, msg.RoutingKey, OutcomeDeadLettered)
		return Permanent(err)
	}
	logger = logger.With(zap.String("event_id", env.EventID))

	h, ok := r.routes[msg.RoutingKey]
	if !ok {
		logger.Warn("no handler for routing key, dropping")
		r.record(ctx, msg.RoutingKey, OutcomeDropped)
		return nil
	}

	if r.dedup != nil && env.EventID != "" {
		fresh, err := r.dedup.Claim(ctx, r.queue, env.EventID)
		switch {
		case errors.Is(err, ErrClaimInFlight):
			logger.Warn("event claimed by an unsettled delivery, requeueing")
			r.record(ctx, msg.RoutingKey, OutcomeRetried)
			return err
		case err != nil:
			logger.Warn("dedup claim failed, processing anyway", zap.Error(err))
		case !fresh:
			logger.Info("duplicate event skipped")
			r.record(ctx, msg.RoutingKey, OutcomeDuplicate)
			return nil
		}
	}

	err = h(ctx, msg)
	switch {
	case err == nil:
		logger.Debug("event handled", zap.Bool("redelivered", msg.Redelivered))
		r.complete(ctx, logger, env.EventID)
		r.record(ctx, msg.RoutingKey, OutcomeHandled)
		return nil

	case errors.Is(err, ErrPermanent) || errors.Is(err, events.ErrMalformed):
		logger.Error("malformed event, dead-lettering", zap.Error(err))
		r.release(ctx, logger, env.EventID)
		r.record(ctx, msg.RoutingKey, OutcomeDeadLettered)
		return Permanent(err)

	case apperr.KindOf(err) != apperr.KindInternal:
		logger.Warn("event dropped", zap.Error(err))
		r.complete(ctx, logger, env.EventID)
		r.record(ctx, msg.RoutingKey, OutcomeDropped)
		return nil

	default:
		logger.Error("event handling failed, requeueing", zap.Error(err))
		r.release(ctx, logger, env.EventID)
		r.record(ctx, msg.RoutingKey, OutcomeRetried)
		return err
	}
}

// complete and release settle the claim even when the delivery context is
// already cancelled; a claim left behind by a shutdown would swallow the
// redelivery.
func (r *Router) complete(ctx context.Context, logger *zap.Logger, eventID string) {
	if r.dedup == nil || eventID == "" {
		return
	}
	if err := r.dedup.Complete(context.WithoutCancel(ctx), r.queue, eventID); err != nil {
		logger.Warn("dedup complete failed", zap.Error(err))
	}
}

func (r *Router) release(ctx context.Context, logger *zap.Logger, eventID string) {
	if r.dedup == nil || eventID == "" {
		return
	}
	if err := r.dedup.Release(context.WithoutCancel(ctx), r.queue, eventID); err != nil {
		logger.Warn("dedup release failed", zap.Error(err))
	}
}

func (r *Router) record(ctx context.Context, routingKey, outcome string) {
	if r.consumed == nil {
		return
	}
	r.consumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", r.queue),
		attribute.String("routing_key", routingKey),
		attribute.String("outcome", outcome),
	))
}

// Run consumes the router's queue on s until ctx is cancelled.
func (r *Router) Run(ctx context.Context, s Subscriber) error {
	return s.Consume(ctx, r.Subscription(), r.Dispatch)
}
