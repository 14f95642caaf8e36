// cmd/borrowing/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"neighborly/internal/auth"
	"neighborly/internal/borrowing"
	"neighborly/internal/clients"
	"neighborly/internal/dashboard"
	"neighborly/internal/notify"
	"neighborly/internal/platform/config"
	"neighborly/internal/platform/database"
	"neighborly/internal/platform/httpx"
	"neighborly/internal/platform/logging"
	"neighborly/internal/platform/server"
	"neighborly/internal/platform/telemetry"
	"neighborly/pkg/eventstore"
)

func main() {
	cfg, err := config.Load("borrowing", "8082")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("borrowing service failed", "error", err)
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

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL, nil)
	}
	dispatcher := notify.NewDispatcher(sender, logger, cfg.NotifyQueueSize, cfg.NotifyWorkers)

	repo := borrowing.NewPostgresRepository(db, eventstore.NewEventStore(db))
	items := clients.NewCatalogClient(cfg.CatalogServiceURL, cfg.InternalAPIKey, nil)
	members := clients.NewCommunityClient(cfg.CommunityServiceURL, cfg.InternalAPIKey, nil)
	svc := borrowing.NewService(repo, items, members, dispatcher, logger)
	reporter := borrowing.NewOverdueReporter(repo, dispatcher, logger, cfg.OverdueScanInterval)

	router := httpx.NewRouter(logger)
	authenticate := auth.RequireAuth(auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.JWTAccessTTL))
	borrowing.NewHandler(svc, logger).Routes(router, authenticate)
	dashboard.NewHandler(dashboard.NewService(repo), logger).Routes(router, authenticate)

	return server.Run(ctx, logger, cfg.Addr(), router, dispatcher.Run, reporter.Run)
}
