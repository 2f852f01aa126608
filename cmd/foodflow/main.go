package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joao-fontenele/foodflow/internal/app"
	"github.com/joao-fontenele/foodflow/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("foodflow", 8090)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg, app.OrdersArea, app.RestaurantsArea, app.DeliveryArea); err != nil {
		fmt.Fprintf(os.Stderr, "foodflow: %v\n", err)
		os.Exit(1)
	}
}
