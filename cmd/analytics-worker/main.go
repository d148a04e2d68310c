package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/bookswap-backend/internal/analytics/router"
	"github.com/angelmondragon/bookswap-backend/internal/analytics/worker"
	"github.com/angelmondragon/bookswap-backend/internal/analytics/writer"
	"github.com/angelmondragon/bookswap-backend/pkg/bigquery"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/idempotency"
	"github.com/angelmondragon/bookswap-backend/pkg/instance"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/pubsub"
	"github.com/angelmondragon/bookswap-backend/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := run(ctx, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker failed", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	var closers []namedCloser
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logg.Error(ctx, "failed to close "+closers[i].name, err)
			}
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	closers = append(closers, namedCloser{"redis client", redisClient})

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	closers = append(closers, namedCloser{"pubsub client", pubsubClient})

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	closers = append(closers, namedCloser{"bigquery client", bqClient})

	subscriptions := pubsubClient.AnalyticsSubscriptions()
	if len(subscriptions) == 0 {
		return errors.New("no analytics subscription configured")
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL, idempotency.ConsumerScope(worker.ConsumerName))
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}

	orderEvents, err := writer.New(bqClient, writer.Config{
		OrderEventsTable: cfg.BigQuery.OrderEventsTable,
		RetryPolicy:      writer.RetryPolicy{MaxAttempts: cfg.BigQuery.InsertAttempts},
	})
	if err != nil {
		return fmt.Errorf("order events writer: %w", err)
	}

	handler, err := router.NewRouter(orderEvents, logg, nil)
	if err != nil {
		return fmt.Errorf("analytics router: %w", err)
	}

	service, err := worker.NewService(subscriptions, handler, manager, logg)
	if err != nil {
		return fmt.Errorf("analytics worker service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"serviceKind":   cfg.Service.Kind,
		"instance":      instance.GetID(),
		"subscriptions": len(subscriptions),
	})
	logg.Info(ctx, "analytics worker ready")
	return service.Run(ctx)
}

type namedCloser struct {
	name string
	io.Closer
}
