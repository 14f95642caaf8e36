// cmd/community/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"neighborly/internal/auth"
	"neighborly/internal/community"
	"neighborly/internal/platform/config"
	"neighborly/internal/platform/database"
	"neighborly/internal/platform/httpx"
	"neighborly/internal/platform/logging"
	"neighborly/internal/platform/server"
	"neighborly/internal/platform/telemetry"
	"neighborly/pkg/eventstore"
)

func main() {
	cfg, err := config.Load("community", "8083")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("community service failed", "error", err)
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

	jwt := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.JWTAccessTTL)
	svc := community.NewService(db, eventstore.NewEventStore(db), jwt, community.CryptoSource{})

	router := httpx.NewRouter(logger)
	community.NewHandler(svc, logger).Routes(router, auth.RequireAuth(jwt), auth.RequireServiceKey(cfg.InternalAPIKey))

	return server.Run(ctx, logger, cfg.Addr(), router)
}
