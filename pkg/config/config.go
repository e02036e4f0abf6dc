package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Gateway      GatewayConfig
	ChangeFeed   ChangeFeedConfig
	Payments     PaymentsConfig
	Cron         CronConfig
	HTTP         HTTPConfig
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
	Env          string `envconfig:"ORDERDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERDESK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERDESK_LOG_WARN_STACK" default:"false"`
	// MetricsAddr exposes /metrics from the background workers; empty disables it.
	MetricsAddr string `envconfig:"ORDERDESK_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERDESK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERDESK_DB_DSN"`
	Driver string `envconfig:"ORDERDESK_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ORDERDESK_DB_HOST"`
	Port     int    `envconfig:"ORDERDESK_DB_PORT" default:"5432"`
	User     string `envconfig:"ORDERDESK_DB_USER"`
	Password string `envconfig:"ORDERDESK_DB_PASSWORD"`
	Name     string `envconfig:"ORDERDESK_DB_NAME"`
	SSLMode  string `envconfig:"ORDERDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"ORDERDESK_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxRetries          int           `envconfig:"ORDERDESK_DB_TX_RETRIES" default:"2"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERDESK_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"ORDERDESK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORDERDESK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORDERDESK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERDESK_AUTO_MIGRATE" default:"false"`
	ChangeFeed  bool `envconfig:"ORDERDESK_FEATURE_CHANGE_FEED" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"ORDERDESK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"ORDERDESK_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	HTTPIdempotencyTTL    time.Duration `envconfig:"ORDERDESK_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERDESK_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ORDERDESK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERDESK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic                    string `envconfig:"ORDERDESK_PUBSUB_ORDERS_TOPIC" required:"true"`
	NotificationSubscription       string `envconfig:"ORDERDESK_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription          string `envconfig:"ORDERDESK_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
	NotificationMaxOutstandingMsgs int    `envconfig:"ORDERDESK_PUBSUB_NOTIFICATION_MAX_OUTSTANDING" default:"10"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"ORDERDESK_BIGQUERY_DATASET" default:"orderdesk"`
	TransitionsTable string `envconfig:"ORDERDESK_BIGQUERY_TRANSITIONS_TABLE" default:"order_transitions"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ORDERDESK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ORDERDESK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ORDERDESK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"ORDERDESK_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"ORDERDESK_STRIPE_API_KEY"`
	Secret string `envconfig:"ORDERDESK_STRIPE_SECRET"`
	Env    string `envconfig:"ORDERDESK_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// GatewayConfig holds the shared secret used to sign payment callbacks
// relayed by the checkout client.
type GatewayConfig struct {
	CallbackSecret string `envconfig:"ORDERDESK_GATEWAY_CALLBACK_SECRET" required:"true"`
	Currency       string `envconfig:"ORDERDESK_GATEWAY_CURRENCY" default:"usd"`
}

type ChangeFeedConfig struct {
	SubscriberBuffer     int           `envconfig:"ORDERDESK_CHANGE_FEED_BUFFER" default:"64"`
	MinReconnectInterval time.Duration `envconfig:"ORDERDESK_CHANGE_FEED_MIN_RECONNECT" default:"1s"`
	MaxReconnectInterval time.Duration `envconfig:"ORDERDESK_CHANGE_FEED_MAX_RECONNECT" default:"30s"`
	KeepAlive            time.Duration `envconfig:"ORDERDESK_CHANGE_FEED_KEEPALIVE" default:"25s"`
}

type PaymentsConfig struct {
	IntentTTL time.Duration `envconfig:"ORDERDESK_PAYMENTS_INTENT_TTL" default:"24h"`
}

// HTTPConfig tunes the API surface.
type HTTPConfig struct {
	AllowedOrigins     []string      `envconfig:"ORDERDESK_HTTP_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	CallbackRateWindow time.Duration `envconfig:"ORDERDESK_HTTP_CALLBACK_RATE_WINDOW" default:"1m"`
	CallbackRateLimit  int           `envconfig:"ORDERDESK_HTTP_CALLBACK_RATE_LIMIT" default:"120"`
	ShutdownTimeout    time.Duration `envconfig:"ORDERDESK_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"ORDERDESK_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"ORDERDESK_CRON_LOCK_TTL" default:"10m"`
	// read notifications older than this are purged
	NotificationRetention time.Duration `envconfig:"ORDERDESK_CRON_NOTIFICATION_RETENTION" default:"2160h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range componentDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
