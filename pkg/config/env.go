package config

const EnvPrefix = "ORDERDESK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv     = "ORDERDESK_APP_ENV"
	EnvPort       = "ORDERDESK_APP_PORT"
	EnvLogLevel   = "ORDERDESK_LOG_LEVEL"
	EnvDBDSN      = "ORDERDESK_DB_DSN"
	EnvDBHost     = "ORDERDESK_DB_HOST"
	EnvDBUser     = "ORDERDESK_DB_USER"
	EnvDBPassword = "ORDERDESK_DB_PASSWORD"
	EnvDBName     = "ORDERDESK_DB_NAME"
	EnvRedisURL   = "ORDERDESK_REDIS_URL"
	EnvJWTSecret  = "ORDERDESK_JWT_SECRET"
	EnvJWTIssuer  = "ORDERDESK_JWT_ISSUER"

	EnvGCPProjectID                   = "ORDERDESK_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic              = "ORDERDESK_PUBSUB_ORDERS_TOPIC"
	EnvPubSubNotificationSubscription = "ORDERDESK_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSubscription    = "ORDERDESK_PUBSUB_ANALYTICS_SUBSCRIPTION"

	EnvGatewayCallbackSecret = "ORDERDESK_GATEWAY_CALLBACK_SECRET"
	EnvChangeFeedBuffer      = "ORDERDESK_CHANGE_FEED_BUFFER"
)

var componentDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
