package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bookswap-backend/api/controllers"
	"github.com/angelmondragon/bookswap-backend/api/routes"
	"github.com/angelmondragon/bookswap-backend/internal/app"
	courierwebhook "github.com/angelmondragon/bookswap-backend/internal/webhooks/courier"
	squarewebhook "github.com/angelmondragon/bookswap-backend/internal/webhooks/square"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/idempotency"
	"github.com/angelmondragon/bookswap-backend/pkg/instance"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/migrate"
	"github.com/angelmondragon/bookswap-backend/pkg/redis"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg); err != nil {
		logg.Error(ctx, "api stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api shut down")
}

func run(ctx context.Context, logg *logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
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

	deps := routes.Deps{
		Config:   cfg,
		Logger:   logg,
		Store:    redisClient,
		Gatherer: prometheus.DefaultGatherer,
		Ready: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Orders:        services.Orders,
		Rates:         services.Rates,
		Notifications: services.Notifications,
	}
	if err := wireWebhooks(cfg, logg, redisClient, services, &deps); err != nil {
		return fmt.Errorf("wire webhooks: %w", err)
	}

	// PORT wins so the platform router can assign one.
	addr := ":" + cmp.Or(os.Getenv("PORT"), cfg.App.Port)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	return serve(ctx, &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	})
}

// serve blocks until the server fails or ctx ends, then drains in-flight
// requests for up to shutdownTimeout.
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// wireWebhooks mounts provider callbacks only when their shared secret is
// configured.
func wireWebhooks(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, services *app.Services, deps *routes.Deps) error {
	if cfg.Courier.WebhookSecret == "" && cfg.Square.WebhookSignatureKey == "" {
		return nil
	}
	ttl := cfg.Eventing.OutboxIdempotencyTTL

	if cfg.Courier.WebhookSecret != "" {
		guard, err := idempotency.NewManager(redisClient, ttl, idempotency.WebhookScope("courier"))
		if err != nil {
			return err
		}
		svc, err := courierwebhook.NewService(courierwebhook.ServiceParams{Orders: services.Orders, Logger: logg})
		if err != nil {
			return err
		}
		deps.CourierGuard = guard
		deps.CourierWebhook = svc
	}
	if cfg.Square.WebhookSignatureKey != "" {
		guard, err := idempotency.NewManager(redisClient, ttl, idempotency.WebhookScope("square"))
		if err != nil {
			return err
		}
		svc, err := squarewebhook.NewService(squarewebhook.ServiceParams{Orders: services.Orders, Logger: logg})
		if err != nil {
			return err
		}
		deps.SquareGuard = guard
		deps.SquareWebhook = svc
	}
	return nil
}
