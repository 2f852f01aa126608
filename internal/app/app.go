package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/foodflow/internal/config"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
	"github.com/joao-fontenele/foodflow/internal/logging"
	"github.com/joao-fontenele/foodflow/internal/messaging"
	"github.com/joao-fontenele/foodflow/internal/telemetry"
)

// Run serves the given areas on one HTTP server and runs each area's queue
// consumer until ctx is cancelled or any of them fails.
func Run(ctx context.Context, cfg *config.Config, builds ...AreaBuilder) error {
	if len(builds) == 0 {
		return errors.New("no areas to run")
	}
	if cfg.Database.URL == "" {
		return errors.New("POSTGRES_URL is required")
	}

	logger, err := logging.New(cfg.Service.Name, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	telemetry.InstallPropagators()

	if cfg.Telemetry.TracingEnabled {
		shutdown, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Service.Name, cfg.Service.Version)
		if err != nil {
			return fmt.Errorf("init tracer provider: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	metrics, shutdownMetrics, err := telemetry.InitMeterProvider(cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Error("failed to shutdown meter provider", zap.Error(err))
		}
	}()

	db, err := telemetry.OpenDB(ctx, "postgres", cfg.Database.URL, telemetry.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	broker, err := OpenBroker(cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	var routerOpts []messaging.RouterOption
	if cfg.Redis.URL != "" {
		rdb, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		dedup := messaging.NewRedisDeduplicator(rdb, cfg.Redis.DedupTTL, cfg.Redis.DedupClaimTTL)
		routerOpts = append(routerOpts, messaging.WithDeduplicator(dedup))
	}

	deps := Deps{
		Stores:        PostgresStores(db),
		Emitter:       messaging.NewEmitter(broker, logger),
		Logger:        logger,
		RouterOptions: routerOpts,
		AutoConfirm:   cfg.RestaurantAutoConfirm,
	}

	router := httpapi.NewRouter(logger, metrics)
	areas := make([]Area, 0, len(builds))
	for _, build := range builds {
		area := build(deps)
		area.Register(router)
		areas = append(areas, area)

		logger.Info("area enabled",
			zap.String("area", area.Name),
			zap.String("broker", string(cfg.Broker.Kind)),
			zap.Strings("routing_keys", area.Consumer.Subscription().RoutingKeys),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Serve(ctx, cfg.Service.Addr(), cfg.Service.Name, router, logger)
	})
	for _, area := range areas {
		g.Go(func() error {
			return area.Consumer.Run(ctx, broker)
		})
	}

	return g.Wait()
}

const (
	memoryRetention = 1000
	memoryRetries   = 3
)

// OpenBroker connects the configured broker. Every queue of the topology is
// declared up front so events published before a consumer starts are kept.
func OpenBroker(cfg config.BrokerConfig, logger *zap.Logger) (messaging.Broker, error) {
	switch cfg.Kind {
	case config.BrokerRabbitMQ:
		rabbit, err := messaging.DialRabbitMQ(messaging.RabbitMQConfig{
			URL:        cfg.RabbitMQURL,
			Exchange:   cfg.RabbitMQExchange,
			Prefetch:   cfg.RabbitMQPrefetch,
			MessageTTL: cfg.MessageTTL,
			Queues:     messaging.Topology(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return rabbit, nil
	case config.BrokerKafka:
		return messaging.NewKafka(cfg.KafkaBrokers, logger), nil
	case config.BrokerMemory:
		logger.Warn("in-memory broker selected, events do not survive the process")
		return messaging.NewMemory(messaging.Topology()...).Retain(memoryRetention).Retry(memoryRetries), nil
	default:
		return nil, fmt.Errorf("unsupported broker %q", cfg.Kind)
	}
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
