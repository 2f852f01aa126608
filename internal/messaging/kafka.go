package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var kafkaTracer = otel.Tracer("messaging/kafka")

// Kafka maps the topic exchange onto Kafka: one topic per routing key and one
// consumer group per queue. Messages keyed by order id keep per-order ordering
// within a topic.
type Kafka struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger
	opts    []KafkaOption
}

type KafkaOption func(*kafka.ReaderConfig)

func WithStartOffset(offset int64) KafkaOption {
	return func(cfg *kafka.ReaderConfig) {
		cfg.StartOffset = offset
	}
}

func NewKafka(brokers []string, logger *zap.Logger, opts ...KafkaOption) *Kafka {
	return &Kafka{
		brokers: brokers,
		logger:  logger,
		opts:    opts,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           100 * time.Millisecond,
		},
	}
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	km := kafka.Message{
		Topic: msg.RoutingKey,
		Key:   []byte(msg.Key),
		Value: msg.Body,
	}
	for key, value := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	ctx, span := kafkaTracer.Start(ctx, "send "+msg.RoutingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(msg.RoutingKey),
			semconv.MessagingKafkaMessageKey(msg.Key),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, kafkaHeaderCarrier{msg: &km})

	if err := k.writer.WriteMessages(ctx, km); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("kafka: publish %s: %w", msg.RoutingKey, err)
	}

	return nil
}

// Consume reads every routing-key topic of sub in the consumer group named
// after the queue. Permanent failures are copied to the queue's dead-letter
// topic and committed. Retryable failures leave the offset uncommitted and
// rejoin the group, which redelivers from the last commit.
func (k *Kafka) Consume(ctx context.Context, sub Subscription, h Handler) error {
	backoff := time.Second
	for {
		err := k.consumeOnce(ctx, sub, h)
		if ctx.Err() != nil {
			return nil
		}

		k.logger.Warn("kafka consumer restarting",
			zap.String("queue", sub.Queue), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, 30*time.Second)
	}
}

func (k *Kafka) consumeOnce(ctx context.Context, sub Subscription, h Handler) error {
	cfg := kafka.ReaderConfig{
		Brokers:     k.brokers,
		GroupID:     sub.Queue,
		GroupTopics: sub.RoutingKeys,
	}
	for _, opt := range k.opts {
		opt(&cfg)
	}

	reader := kafka.NewReader(cfg)
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := k.processMessage(ctx, sub.Queue, msg, h); err != nil {
			if !errors.Is(err, ErrPermanent) {
				return err
			}
			if dlqErr := k.deadLetter(ctx, sub.Queue, msg, err); dlqErr != nil {
				return dlqErr
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (k *Kafka) processMessage(ctx context.Context, queue string, msg kafka.Message, h Handler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, kafkaHeaderCarrier{msg: &msg})

	spanCtx, span := kafkaTracer.Start(parentCtx, "process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaConsumerGroup(queue),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	err := h(spanCtx, Message{
		RoutingKey: msg.Topic,
		Key:        string(msg.Key),
		Body:       msg.Value,
		Headers:    kafkaHeaders(&msg),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (k *Kafka) deadLetter(ctx context.Context, queue string, msg kafka.Message, cause error) error {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "x-original-topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
	)

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   DeadLetterQueue(queue),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("kafka: dead-letter %s: %w", msg.Topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
