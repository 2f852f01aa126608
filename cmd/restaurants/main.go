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

	cfg, err := config.Load("restaurants-service", 8082)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg, app.RestaurantsArea); err != nil {
		fmt.Fprintf(os.Stderr, "restaurants-service: %v\n", err)
		os.Exit(1)
	}
}
