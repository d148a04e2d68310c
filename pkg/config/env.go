package config

const EnvPrefix = "BOOKSWAP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "BOOKSWAP_APP_ENV"
	EnvPort     = "BOOKSWAP_APP_PORT"
	EnvLogLevel = "BOOKSWAP_LOG_LEVEL"

	EnvDBDSN  = "BOOKSWAP_DB_DSN"
	EnvDBHost = "BOOKSWAP_DB_HOST"
	EnvDBUser = "BOOKSWAP_DB_USER"
	EnvDBName = "BOOKSWAP_DB_NAME"

	EnvRedisURL = "BOOKSWAP_REDIS_URL"

	EnvJWTSecret = "BOOKSWAP_JWT_SECRET"
	EnvJWTIssuer = "BOOKSWAP_JWT_ISSUER"

	EnvGCPProjectID                = "BOOKSWAP_GCP_PROJECT_ID"
	EnvPubSubNotificationSubscribe = "BOOKSWAP_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvCourierAPIKey = "BOOKSWAP_COURIER_API_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
