package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bookswap-backend/internal/app"
	"github.com/angelmondragon/bookswap-backend/internal/cron"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/instance"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/migrate"
	"github.com/angelmondragon/bookswap-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, logg *logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	services, err := app.NewServices(ctx, cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("wire fulfillment services: %w", err)
	}
	registry, err := buildRegistry(cfg, logg, services)
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockKey, cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Cron.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	g.Go(func() error {
		return service.Run(gctx)
	})
	return g.Wait()
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, services *app.Services) (*cron.Registry, error) {
	expiry, err := cron.NewPendingOrderExpiryJob(cron.PendingOrderExpiryJobParams{
		Logger:  logg,
		Orders:  services.OrdersRepo,
		Expirer: services.Orders,
		TTL:     cfg.Cron.PendingOrderTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("pending order expiry: %w", err)
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(logg, services.OutboxRepo.DeletePublishedBefore)
	if err != nil {
		return nil, fmt.Errorf("outbox retention: %w", err)
	}
	dlqRetention, err := cron.NewDLQRetentionJob(logg, services.OutboxDLQRepo.DeleteBefore)
	if err != nil {
		return nil, fmt.Errorf("outbox dlq retention: %w", err)
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(logg, services.NotificationsRepo.DeleteReadBefore)
	if err != nil {
		return nil, fmt.Errorf("notification cleanup: %w", err)
	}

	jobs := []cron.Job{expiry, outboxRetention, dlqRetention, notificationCleanup}
	if services.CourierConfigured {
		reconcile, err := cron.NewSimulatedShipmentReconcileJob(cron.SimulatedShipmentReconcileJobParams{
			Logger:    logg,
			Orders:    services.OrdersRepo,
			Quotes:    services.Rates,
			Shipments: services.Shipments,
			BatchSize: cfg.Cron.ReconcileBatch,
		})
		if err != nil {
			return nil, fmt.Errorf("simulated shipment reconcile: %w", err)
		}
		jobs = append(jobs, reconcile)
	}
	return cron.NewRegistry(jobs...)
}
