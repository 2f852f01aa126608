package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/config"
	"github.com/joao-fontenele/foodflow/internal/gateway"
	"github.com/joao-fontenele/foodflow/internal/httpapi"
	"github.com/joao-fontenele/foodflow/internal/logging"
	"github.com/joao-fontenele/foodflow/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("gateway", 8080)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Service.Name, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	telemetry.InstallPropagators()

	if cfg.Telemetry.TracingEnabled {
		shutdown, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Service.Name, cfg.Service.Version)
		if err != nil {
			return fmt.Errorf("init tracer provider: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	metrics, shutdownMetrics, err := telemetry.InitMeterProvider(cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	handler := gateway.NewHandler(
		gateway.NewServiceProxy("orders-service", cfg.Gateway.OrdersURL, client),
		gateway.NewServiceProxy("restaurants-service", cfg.Gateway.RestaurantsURL, client),
		gateway.NewServiceProxy("delivery-service", cfg.Gateway.DeliveryURL, client),
		logger,
	)

	router := httpapi.NewRouter(logger, metrics)
	handler.Register(router)

	logger.Info("proxying",
		zap.String("orders", cfg.Gateway.OrdersURL),
		zap.String("restaurants", cfg.Gateway.RestaurantsURL),
		zap.String("delivery", cfg.Gateway.DeliveryURL),
	)

	return httpapi.Serve(ctx, cfg.Service.Addr(), cfg.Service.Name, router, logger)
}
