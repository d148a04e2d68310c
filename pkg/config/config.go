package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Eventing    EventingConfig
	GCP         GCPConfig
	BigQuery    BigQueryConfig
	PubSub      PubSubConfig
	Outbox      OutboxConfig
	Courier     CourierConfig
	Square      SquareConfig
	Fulfillment FulfillmentConfig
	Cron        CronConfig

	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOOKSWAP_APP_ENV" required:"true"`
	Port         string `envconfig:"BOOKSWAP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BOOKSWAP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOOKSWAP_LOG_WARN_STACK" default:"false"`

	CORSOrigins        []string `envconfig:"BOOKSWAP_CORS_ORIGINS" default:"*"`
	RateLimitPerMinute int      `envconfig:"BOOKSWAP_RATE_LIMIT_PER_MINUTE" default:"120"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOOKSWAP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOOKSWAP_DB_DSN"`
	Driver string `envconfig:"BOOKSWAP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BOOKSWAP_DB_HOST"`
	LegacyPort     int    `envconfig:"BOOKSWAP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOOKSWAP_DB_USER"`
	LegacyPassword string `envconfig:"BOOKSWAP_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOOKSWAP_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOOKSWAP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOOKSWAP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOOKSWAP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOOKSWAP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOOKSWAP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this at warn level.
	SlowQueryThreshold time.Duration `envconfig:"BOOKSWAP_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOOKSWAP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOOKSWAP_REDIS_ADDR"`
	Password     string        `envconfig:"BOOKSWAP_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOOKSWAP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOOKSWAP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOOKSWAP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOOKSWAP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOOKSWAP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOOKSWAP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the settings used to verify access tokens minted by the
// identity service.
type JWTConfig struct {
	Secret string `envconfig:"BOOKSWAP_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BOOKSWAP_JWT_ISSUER" required:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BOOKSWAP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"BOOKSWAP_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BOOKSWAP_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BOOKSWAP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// BigQueryConfig names the dataset the analytics worker streams order
// lifecycle rows into.
type BigQueryConfig struct {
	Dataset          string `envconfig:"BOOKSWAP_BIGQUERY_DATASET" default:"bookswap"`
	OrderEventsTable string `envconfig:"BOOKSWAP_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_events"`
	InsertAttempts   int    `envconfig:"BOOKSWAP_BIGQUERY_INSERT_ATTEMPTS" default:"3"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"BOOKSWAP_PUBSUB_ORDERS_TOPIC" default:"bs-order-events"`
	NotificationTopic        string `envconfig:"BOOKSWAP_PUBSUB_NOTIFICATION_TOPIC" default:"bs-notification-events"`
	NotificationSubscription string `envconfig:"BOOKSWAP_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	DLQTopic                 string `envconfig:"BOOKSWAP_PUBSUB_DLQ_TOPIC"`
	// AnalyticsSubscriptions lists one subscription per topic the analytics
	// worker drains.
	AnalyticsSubscriptions []string `envconfig:"BOOKSWAP_PUBSUB_ANALYTICS_SUBSCRIPTIONS"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BOOKSWAP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BOOKSWAP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BOOKSWAP_OUTBOX_MAX_ATTEMPTS" default:"10"`

	MetricsAddr string `envconfig:"BOOKSWAP_OUTBOX_METRICS_ADDR" default:":9103"`
}

// CourierConfig configures the courier quoting/shipment API. An empty APIKey
// switches quotes and shipments to simulated mode.
type CourierConfig struct {
	BaseURL      string        `envconfig:"BOOKSWAP_COURIER_BASE_URL" default:"https://api.shiplogic.com/v2"`
	APIKey       string        `envconfig:"BOOKSWAP_COURIER_API_KEY"`
	Timeout      time.Duration `envconfig:"BOOKSWAP_COURIER_TIMEOUT" default:"10s"`
	ProviderSlug string        `envconfig:"BOOKSWAP_COURIER_PROVIDER_SLUG" default:"tcg"`
	// WebhookSecret authenticates tracking callbacks from the courier.
	WebhookSecret string `envconfig:"BOOKSWAP_COURIER_WEBHOOK_SECRET"`
}

// Configured reports whether real courier calls can be made.
func (c CourierConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type SquareConfig struct {
	AccessToken string `envconfig:"BOOKSWAP_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"BOOKSWAP_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"BOOKSWAP_SQUARE_LOCATION_ID"`
	Currency    string `envconfig:"BOOKSWAP_SQUARE_CURRENCY" default:"ZAR"`

	WebhookSignatureKey string `envconfig:"BOOKSWAP_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	// WebhookURL must match the notification URL registered with Square;
	// it is part of the signed payload.
	WebhookURL string `envconfig:"BOOKSWAP_SQUARE_WEBHOOK_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// FulfillmentConfig carries the pricing constants applied to courier quotes.
type FulfillmentConfig struct {
	MarkupAmount       string `envconfig:"BOOKSWAP_DELIVERY_MARKUP" default:"15"`
	FallbackRatePerKG  string `envconfig:"BOOKSWAP_FALLBACK_RATE_PER_KG" default:"40"`
	FallbackMinimum    string `envconfig:"BOOKSWAP_FALLBACK_MIN_COST" default:"50"`
	SimulatedETADays   int    `envconfig:"BOOKSWAP_SIMULATED_ETA_DAYS" default:"3"`
	PlaceholderLabel   string `envconfig:"BOOKSWAP_PLACEHOLDER_LABEL_URL" default:"https://labels.bookswap.local/simulated.pdf"`
	DefaultParcelKG    string `envconfig:"BOOKSWAP_DEFAULT_PARCEL_KG" default:"1"`
	DefaultParcelSizes string `envconfig:"BOOKSWAP_DEFAULT_PARCEL_CM" default:"30x25x5"`
}

type CronConfig struct {
	LockKey         string        `envconfig:"BOOKSWAP_CRON_LOCK_KEY" default:"cron:fulfillment"`
	LockTTL         time.Duration `envconfig:"BOOKSWAP_CRON_LOCK_TTL" default:"30m"`
	Interval        time.Duration `envconfig:"BOOKSWAP_CRON_INTERVAL" default:"15m"`
	PendingOrderTTL time.Duration `envconfig:"BOOKSWAP_ORDER_PENDING_TTL" default:"72h"`
	ReconcileBatch  int           `envconfig:"BOOKSWAP_CRON_RECONCILE_BATCH" default:"25"`
	MetricsAddr     string        `envconfig:"BOOKSWAP_CRON_METRICS_ADDR" default:":9102"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

type FeatureFlagsConfig struct {
	// AutoMigrate runs goose up on boot in dev.
	AutoMigrate bool `envconfig:"BOOKSWAP_AUTO_MIGRATE" default:"false"`
}
