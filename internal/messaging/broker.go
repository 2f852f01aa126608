package messaging

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermanent marks a message that can never be processed. Brokers route it
// to the dead-letter queue instead of redelivering it.
var ErrPermanent = errors.New("permanent message failure")

func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Message struct {
	RoutingKey  string
	Key         string
	Body        []byte
	Headers     map[string]string
	Redelivered bool
}

// Handler processes one delivery. A nil return acknowledges the message, an
// error wrapping ErrPermanent dead-letters it and any other error requeues it.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscription struct {
	Queue       string
	RoutingKeys []string
}

// Subscriber consumes a queue until ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, sub Subscription, h Handler) error
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

const (
	OrdersQueue      = "order-service-queue"
	RestaurantsQueue = "restaurants-service-queue"
	DeliveryQueue    = "delivery-service-queue"
)

func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}
