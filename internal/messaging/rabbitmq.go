package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var rabbitTracer = otel.Tracer("messaging/rabbitmq")

type RabbitMQConfig struct {
	URL        string
	Exchange   string
	Prefetch   int
	MessageTTL time.Duration
	Queues     []Subscription
}

func (c RabbitMQConfig) deadLetterExchange() string {
	return c.Exchange + ".dlx"
}

// RabbitMQ publishes to a durable topic exchange and consumes durable queues
// bound to it. A background watcher re-dials after connection loss.
type RabbitMQ struct {
	cfg    RabbitMQConfig
	logger *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	closeOnce sync.Once
	closed    chan struct{}
	reconnect chan struct{}
}

func DialRabbitMQ(cfg RabbitMQConfig, logger *zap.Logger) (*RabbitMQ, error) {
	if cfg.Queues == nil {
		cfg.Queues = Topology()
	}

	r := &RabbitMQ{
		cfg:       cfg,
		logger:    logger.With(zap.String("exchange", cfg.Exchange)),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	go r.watch()

	return r, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, msg Message) error {
	r.mu.RLock()
	conn, ch := r.conn, r.pubChan
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	ctx, span := rabbitTracer.Start(ctx, "send "+msg.RoutingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(r.cfg.Exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(msg.RoutingKey),
		),
	)
	defer span.End()

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := ch.PublishWithContext(ctx, r.cfg.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         msg.Body,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("rabbitmq: publish %s: %w", msg.RoutingKey, err)
	}

	return nil
}

// Consume delivers messages from sub.Queue to h until ctx is cancelled.
// Channel loss is retried with backoff; the watcher restores the connection.
func (r *RabbitMQ) Consume(ctx context.Context, sub Subscription, h Handler) error {
	backoff := time.Second
	for {
		err := r.consumeOnce(ctx, sub, h)
		if ctx.Err() != nil {
			return nil
		}

		r.logger.Warn("consumer interrupted, resubscribing",
			zap.String("queue", sub.Queue), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-r.closed:
			return nil
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *RabbitMQ) consumeOnce(ctx context.Context, sub Subscription, h Handler) error {
	ch, err := r.consumerChannel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	deliveries, err := ch.ConsumeWithContext(ctx, sub.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", sub.Queue, err)
	}

	r.logger.Info("consuming queue", zap.String("queue", sub.Queue), zap.Strings("routing_keys", sub.RoutingKeys))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			r.deliver(ctx, sub.Queue, d, h)
		}
	}
}

func (r *RabbitMQ) deliver(ctx context.Context, queue string, d amqp.Delivery, h Handler) {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(d.Headers))

	spanCtx, span := rabbitTracer.Start(parentCtx, "process "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(queue),
			semconv.MessagingRabbitmqDestinationRoutingKey(d.RoutingKey),
		),
	)
	defer span.End()

	err := h(spanCtx, Message{
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		Headers:     amqpHeaders(d.Headers),
		Redelivered: d.Redelivered,
	})

	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case errors.Is(err, ErrPermanent):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ackErr = d.Nack(false, false)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		r.logger.Error("failed to settle delivery",
			zap.String("queue", queue), zap.String("routing_key", d.RoutingKey), zap.Error(ackErr))
	}
}

func (r *RabbitMQ) consumerChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if r.cfg.Prefetch > 0 {
		if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}

	return ch, nil
}

func (r *RabbitMQ) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.pubChan != nil {
			_ = r.pubChan.Close()
			r.pubChan = nil
		}
		if r.conn != nil {
			err = r.conn.Close()
			r.conn = nil
		}
	})
	return err
}

func (r *RabbitMQ) connect() error {
	start := time.Now()

	conn, err := amqp.DialConfig(r.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if err := r.declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: declare topology: %w", err)
	}

	r.mu.Lock()
	if r.pubChan != nil {
		_ = r.pubChan.Close()
	}
	r.conn = conn
	r.pubChan = ch
	r.mu.Unlock()

	go func() {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-r.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}

		select {
		case r.reconnect <- struct{}{}:
		default:
		}
	}()

	r.logger.Info("connected to rabbitmq", zap.Duration("duration", time.Since(start)))
	return nil
}

func (r *RabbitMQ) watch() {
	backoff := time.Second
	for {
		select {
		case <-r.closed:
			return
		case <-r.reconnect:
		}

		for {
			select {
			case <-r.closed:
				return
			default:
			}

			err := r.connect()
			if err == nil {
				backoff = time.Second
				r.logger.Info("reconnected to rabbitmq")
				break
			}

			r.logger.Error("rabbitmq reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))
			if !r.wait(backoff) {
				return
			}
			backoff = min(backoff*2, 30*time.Second)
		}
	}
}

// wait sleeps for d and reports false when the broker is closed first.
func (r *RabbitMQ) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.closed:
		return false
	case <-timer.C:
		return true
	}
}

// declareTopology declares the topic exchange, its dead-letter exchange and
// every queue with its bindings. Declarations are idempotent.
func (r *RabbitMQ) declareTopology(ch *amqp.Channel) error {
	dlx := r.cfg.deadLetterExchange()

	if err := ch.ExchangeDeclare(r.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}

	for _, q := range r.cfg.Queues {
		args := amqp.Table{
			"x-dead-letter-exchange":    dlx,
			"x-dead-letter-routing-key": q.Queue,
		}
		if r.cfg.MessageTTL > 0 {
			args["x-message-ttl"] = r.cfg.MessageTTL.Milliseconds()
		}

		if _, err := ch.QueueDeclare(q.Queue, true, false, false, false, args); err != nil {
			return err
		}
		for _, key := range q.RoutingKeys {
			if err := ch.QueueBind(q.Queue, key, r.cfg.Exchange, false, nil); err != nil {
				return err
			}
		}

		dlq := DeadLetterQueue(q.Queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(dlq, q.Queue, dlx, false, nil); err != nil {
			return err
		}
	}

	return nil
}
