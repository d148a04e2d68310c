package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bookswap-backend/internal/inventory"
	"github.com/angelmondragon/bookswap-backend/internal/notifications"
	"github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/internal/payments"
	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/internal/shipments"
	"github.com/angelmondragon/bookswap-backend/internal/users"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/courier"
	"github.com/angelmondragon/bookswap-backend/pkg/db"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	"github.com/angelmondragon/bookswap-backend/pkg/metrics"
	"github.com/angelmondragon/bookswap-backend/pkg/outbox"
	"github.com/angelmondragon/bookswap-backend/pkg/square"
)

// Services is the fulfillment stack shared by the API and the cron worker.
type Services struct {
	OrdersRepo        orders.Repository
	OutboxRepo        *outbox.Repository
	OutboxDLQRepo     *outbox.DLQRepository
	NotificationsRepo *notifications.Repository
	Orders            orders.Service
	Rates             rates.Service
	Shipments         shipments.Service
	Notifications     notifications.Service
	SagaMetrics       *metrics.SagaMetrics
	CourierConfigured bool
}

// NewServices wires the domain services. Without courier credentials quotes
// and shipments run simulated; without a Square token refunds are refused.
func NewServices(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Services, error) {
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}
	sagaMetrics := metrics.NewSagaMetrics(reg)

	pricing, err := rates.PricingFromConfig(cfg.Fulfillment)
	if err != nil {
		return nil, fmt.Errorf("fulfillment pricing: %w", err)
	}

	rateParams := rates.ServiceParams{
		Pricing:     pricing,
		CourierSlug: cfg.Courier.ProviderSlug,
		Metrics:     sagaMetrics,
		Logger:      logg,
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	shipmentParams := shipments.ServiceParams{
		Repo:     shipments.NewRepository(dbClient.DB()),
		Users:    users.NewRepository(dbClient.DB()),
		Outbox:   emitter,
		TxRunner: dbClient,
		Settings: shipments.Settings{
			CourierSlug:      cfg.Courier.ProviderSlug,
			PlaceholderLabel: cfg.Fulfillment.PlaceholderLabel,
			SimulatedETADays: cfg.Fulfillment.SimulatedETADays,
			DefaultParcel: rates.Parcel{
				WeightKG: pricing.DefaultWeightKG,
				LengthCM: pricing.DefaultLengthCM,
				WidthCM:  pricing.DefaultWidthCM,
				HeightCM: pricing.DefaultHeightCM,
			},
		},
		Metrics: sagaMetrics,
		Logger:  logg,
	}
	if cfg.Courier.Configured() {
		courierClient, err := courier.NewClient(cfg.Courier.APIKey,
			courier.WithBaseURL(cfg.Courier.BaseURL),
			courier.WithTimeout(cfg.Courier.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("courier client: %w", err)
		}
		rateParams.Courier = courierClient
		shipmentParams.Courier = courierClient
	} else {
		logg.Warn(ctx, "courier credentials missing; quotes and shipments will be simulated")
	}

	rateService, err := rates.NewService(rateParams)
	if err != nil {
		return nil, fmt.Errorf("rates service: %w", err)
	}
	shipmentService, err := shipments.NewService(shipmentParams)
	if err != nil {
		return nil, fmt.Errorf("shipments service: %w", err)
	}

	refunder, err := newRefunder(ctx, cfg.Square, logg)
	if err != nil {
		return nil, err
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:      ordersRepo,
		Inventory: inventory.NewLedger(dbClient.DB()),
		Users:     users.NewRepository(dbClient.DB()),
		Refunds:   refunder,
		Shipments: shipmentService,
		Quotes:    rateService,
		Outbox:    emitter,
		TxRunner:  dbClient,
		Metrics:   sagaMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	notificationsRepo := notifications.NewRepository(dbClient.DB())
	notificationService, err := notifications.NewService(notificationsRepo)
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	return &Services{
		OrdersRepo:        ordersRepo,
		OutboxRepo:        outboxRepo,
		OutboxDLQRepo:     outbox.NewDLQRepository(dbClient.DB()),
		NotificationsRepo: notificationsRepo,
		Orders:            orderService,
		Rates:             rateService,
		Shipments:         shipmentService,
		Notifications:     notificationService,
		SagaMetrics:       sagaMetrics,
		CourierConfigured: cfg.Courier.Configured(),
	}, nil
}

func newRefunder(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (payments.Refunder, error) {
	if cfg.AccessToken == "" {
		logg.Warn(ctx, "square access token missing; paid orders cannot be refunded")
		return payments.Unconfigured(), nil
	}
	client, err := square.NewClient(ctx, cfg, logg)
	if err != nil {
		return nil, fmt.Errorf("square client: %w", err)
	}
	return payments.NewSquareRefunder(client, cfg.Currency)
}
