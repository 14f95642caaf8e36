// cmd/catalog/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"neighborly/internal/auth"
	"neighborly/internal/catalog"
	"neighborly/internal/clients"
	"neighborly/internal/platform/config"
	"neighborly/internal/platform/database"
	"neighborly/internal/platform/httpx"
	"neighborly/internal/platform/logging"
	"neighborly/internal/platform/server"
	"neighborly/internal/platform/telemetry"
)

func main() {
	cfg, err := config.Load("catalog", "8081")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("catalog service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.WithoutCancel(ctx))

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	members := clients.NewCommunityClient(cfg.CommunityServiceURL, cfg.InternalAPIKey, nil)
	svc := catalog.NewService(db, members)

	router := httpx.NewRouter(logger)
	jwt := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.JWTAccessTTL)
	catalog.NewHandler(svc, logger).Routes(router, auth.RequireAuth(jwt), auth.RequireServiceKey(cfg.InternalAPIKey))

	return server.Run(ctx, logger, cfg.Addr(), router)
}
