package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradepost/pkg/enums"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Settlement   SettlementConfig
	Inventory    CollaboratorConfig `envconfig:"INVENTORY"`
	Identity     CollaboratorConfig `envconfig:"IDENTITY"`
	Retry        RetryConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADEPOST_APP_ENV" required:"true"`
	Port         string `envconfig:"TRADEPOST_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TRADEPOST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADEPOST_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TRADEPOST_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"TRADEPOST_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADEPOST_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRADEPOST_DB_DSN"`
	Driver string `envconfig:"TRADEPOST_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TRADEPOST_DB_HOST"`
	Port     int    `envconfig:"TRADEPOST_DB_PORT" default:"5432"`
	User     string `envconfig:"TRADEPOST_DB_USER"`
	Password string `envconfig:"TRADEPOST_DB_PASSWORD"`
	Name     string `envconfig:"TRADEPOST_DB_NAME"`
	SSLMode  string `envconfig:"TRADEPOST_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"TRADEPOST_SQLITE_PATH" default:"tradepost.db"`

	MaxOpenConns    int           `envconfig:"TRADEPOST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADEPOST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADEPOST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADEPOST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL            string        `envconfig:"TRADEPOST_REDIS_URL" required:"true"`
	Password       string        `envconfig:"TRADEPOST_REDIS_PASSWORD"`
	DB             int           `envconfig:"TRADEPOST_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"TRADEPOST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"TRADEPOST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"TRADEPOST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"TRADEPOST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"TRADEPOST_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"TRADEPOST_IDEMPOTENCY_TTL" default:"24h"`
}

// JWTConfig verifies tokens minted by the external identity provider.
type JWTConfig struct {
	Secret string `envconfig:"TRADEPOST_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"TRADEPOST_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TRADEPOST_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TRADEPOST_AUTO_MIGRATE" default:"false"`
}

// SettlementConfig holds the platform fee and clearing window applied by the ledger.
type SettlementConfig struct {
	PlatformFeeType  string        `envconfig:"TRADEPOST_PLATFORM_FEE_TYPE" default:"flat"`
	PlatformFeeValue string        `envconfig:"TRADEPOST_PLATFORM_FEE_VALUE" default:"0"`
	ClearingPeriod   time.Duration `envconfig:"TRADEPOST_CLEARING_PERIOD" default:"168h"`
	PayoutMethod     string        `envconfig:"TRADEPOST_PAYOUT_METHOD" default:"bank_transfer"`
}

// FeeType parses PlatformFeeType.
func (s SettlementConfig) FeeType() (enums.FeeType, error) {
	return enums.ParseFeeType(strings.ToLower(strings.TrimSpace(s.PlatformFeeType)))
}

// FeeValue parses PlatformFeeValue as a decimal.
func (s SettlementConfig) FeeValue() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s.PlatformFeeValue))
}

func (s SettlementConfig) validate() error {
	feeType, err := s.FeeType()
	if err != nil {
		return fmt.Errorf("%s: %w", EnvPlatformFeeType, err)
	}
	value, err := s.FeeValue()
	if err != nil {
		return fmt.Errorf("%s: %w", EnvPlatformFeeValue, err)
	}
	if value.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvPlatformFeeValue)
	}
	if feeType == enums.FeeTypePercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be at most 100 for percentage fees", EnvPlatformFeeValue)
	}
	if s.ClearingPeriod < 0 {
		return fmt.Errorf("%s must not be negative", EnvClearingPeriod)
	}
	return nil
}

// CollaboratorConfig addresses an external HTTP collaborator.
type CollaboratorConfig struct {
	BaseURL         string        `envconfig:"BASE_URL"`
	APIKey          string        `envconfig:"API_KEY"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"3s"`
	BreakerFailures uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpenFor  time.Duration `envconfig:"BREAKER_OPEN_FOR" default:"30s"`
}

type RetryConfig struct {
	MaxAttempts uint64        `envconfig:"TRADEPOST_RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"TRADEPOST_RETRY_BASE_DELAY" default:"50ms"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"TRADEPOST_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"TRADEPOST_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"TRADEPOST_PUBSUB_ORDERS_TOPIC" default:"tradepost-order-events"`
	SettlementTopic   string `envconfig:"TRADEPOST_PUBSUB_SETTLEMENT_TOPIC" default:"tradepost-settlement-events"`
	NotificationTopic string `envconfig:"TRADEPOST_PUBSUB_NOTIFICATION_TOPIC" default:"tradepost-notifications"`
	OrderedDelivery   bool   `envconfig:"TRADEPOST_PUBSUB_ORDERED_DELIVERY" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"TRADEPOST_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"TRADEPOST_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"TRADEPOST_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"TRADEPOST_OUTBOX_METRICS_ADDR" default:":9091"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"TRADEPOST_CRON_INTERVAL" default:"15m"`
	LockTTL     time.Duration `envconfig:"TRADEPOST_CRON_LOCK_TTL" default:"10m"`
	PayoutDelay time.Duration `envconfig:"TRADEPOST_PAYOUT_CUTOFF_DELAY" default:"0s"`
	PendingTTL  time.Duration `envconfig:"TRADEPOST_PENDING_ORDER_TTL" default:"72h"`
	Retention   time.Duration `envconfig:"TRADEPOST_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbComponentEnvVars {
		if required[env] == "" {
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
