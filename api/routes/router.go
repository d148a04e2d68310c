package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bookswap-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/bookswap-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/bookswap-backend/api/controllers/webhooks"
	"github.com/angelmondragon/bookswap-backend/api/middleware"
	"github.com/angelmondragon/bookswap-backend/internal/notifications"
	"github.com/angelmondragon/bookswap-backend/internal/orders"
	"github.com/angelmondragon/bookswap-backend/internal/rates"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	"github.com/angelmondragon/bookswap-backend/pkg/enums"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/bookswap-backend/pkg/redis"
)

// Store is the redis surface the HTTP layer needs.
type Store interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type webhookGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Deps carries everything the API routes are wired to. Nil webhook services
// leave their endpoints unmounted.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	Store         Store
	Gatherer      prometheus.Gatherer
	Ready         map[string]controllers.Pinger
	Orders        orders.Service
	Rates         rates.Service
	Notifications notifications.Service

	CourierWebhook webhookcontrollers.CourierWebhookService
	SquareWebhook  webhookcontrollers.SquareWebhookService
	CourierGuard   webhookGuard
	SquareGuard    webhookGuard
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if deps.CourierWebhook != nil {
			r.Post("/courier", webhookcontrollers.CourierWebhook(deps.CourierWebhook, cfg.Courier.WebhookSecret, deps.CourierGuard, logg))
		}
		if deps.SquareWebhook != nil {
			signing := webhookcontrollers.SquareSigning{
				SignatureKey:    cfg.Square.WebhookSignatureKey,
				NotificationURL: cfg.Square.WebhookURL,
			}
			r.Post("/square", webhookcontrollers.SquareWebhook(deps.SquareWebhook, signing, deps.SquareGuard, logg))
		}
	})

	apiLimit := middleware.RateLimitPolicy{
		Name:   "api",
		Limit:  int64(cfg.App.RateLimitPerMinute),
		Window: time.Minute,
	}

	critical := middleware.Idempotent(deps.Store, middleware.CriticalIdempotencyTTL, logg)
	standard := middleware.Idempotent(deps.Store, middleware.StandardIdempotencyTTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiLimit, deps.Store, logg))

		r.Post("/quotes", controllers.Quotes(deps.Rates, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))

			r.With(critical).Post("/", ordercontrollers.Create(deps.Orders, logg))
			r.With(critical).Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.With(critical).Post("/{orderId}/decline", ordercontrollers.Decline(deps.Orders, logg))
			r.With(critical).Post("/{orderId}/commit", ordercontrollers.Commit(deps.Orders, logg))
			r.With(standard).Post("/{orderId}/request-commit", ordercontrollers.RequestCommit(deps.Orders, logg))
			r.With(standard).Post("/{orderId}/delivered", ordercontrollers.MarkDelivered(deps.Orders, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.With(standard).Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.With(standard).Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(standard)

		r.Post("/orders/{orderId}/mark-paid", ordercontrollers.AdminMarkPaid(deps.Orders, logg))
		r.Post("/orders/{orderId}/expire", ordercontrollers.AdminExpire(deps.Orders, logg))
	})

	return r
}
