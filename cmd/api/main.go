// cmd/api/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"neighborly/internal/gateway"
	"neighborly/internal/platform/config"
	"neighborly/internal/platform/logging"
	"neighborly/internal/platform/server"
)

func main() {
	cfg, err := config.Load("api-gateway", "8080")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.ServiceName)

	handler, err := gateway.New(logger, gateway.Upstreams{
		Community: cfg.CommunityServiceURL,
		Catalog:   cfg.CatalogServiceURL,
		Borrowing: cfg.BorrowingServiceURL,
	}, gateway.Limits{
		PerSecond: rate.Limit(cfg.GatewayRatePerSecond),
		Burst:     cfg.GatewayBurst,
	})
	if err != nil {
		logger.Error("invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, logger, cfg.Addr(), handler); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}
