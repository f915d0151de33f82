package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	OrderService OrderServiceConfig
	Allocation   AllocationConfig
	Eventing     EventingConfig
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
	if err := cfg.Redis.validate(cfg.FeatureFlags.DistributedLocks); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SERIALS_APP_ENV" required:"true"`
	Port         string   `envconfig:"SERIALS_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"SERIALS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"SERIALS_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SERIALS_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SERIALS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN        string `envconfig:"SERIALS_DB_DSN"`
	Driver     string `envconfig:"SERIALS_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"SERIALS_SQLITE_PATH" default:"serials.db"`

	LegacyHost     string `envconfig:"SERIALS_DB_HOST"`
	LegacyPort     int    `envconfig:"SERIALS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SERIALS_DB_USER"`
	LegacyPassword string `envconfig:"SERIALS_DB_PASSWORD"`
	LegacyName     string `envconfig:"SERIALS_DB_NAME"`
	LegacySSLMode  string `envconfig:"SERIALS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SERIALS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SERIALS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SERIALS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SERIALS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SERIALS_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SERIALS_REDIS_URL"`
	Address      string        `envconfig:"SERIALS_REDIS_ADDR"`
	Password     string        `envconfig:"SERIALS_REDIS_PASSWORD"`
	DB           int           `envconfig:"SERIALS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SERIALS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SERIALS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SERIALS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SERIALS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SERIALS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

func (r RedisConfig) validate(distributedLocks bool) error {
	if distributedLocks && !r.Enabled() {
		return fmt.Errorf("%s or %s is required when %s is enabled", EnvRedisURL, EnvRedisAddr, EnvDistributedLocks)
	}
	return nil
}

type FeatureFlagsConfig struct {
	UseSQLite        bool `envconfig:"SERIALS_USE_SQLITE" default:"false"`
	AutoMigrate      bool `envconfig:"SERIALS_AUTO_MIGRATE" default:"false"`
	DistributedLocks bool `envconfig:"SERIALS_DISTRIBUTED_LOCKS" default:"false"`
	LifecycleEvents  bool `envconfig:"SERIALS_LIFECYCLE_EVENTS" default:"true"`
}

type OrderServiceConfig struct {
	BaseURL string        `envconfig:"SERIALS_ORDER_SERVICE_URL" required:"true"`
	Token   string        `envconfig:"SERIALS_ORDER_SERVICE_TOKEN"`
	Timeout time.Duration `envconfig:"SERIALS_ORDER_SERVICE_TIMEOUT" default:"5s"`
}

type AllocationConfig struct {
	LockTTL  time.Duration `envconfig:"SERIALS_ALLOCATION_LOCK_TTL" default:"30s"`
	LockWait time.Duration `envconfig:"SERIALS_ALLOCATION_LOCK_WAIT" default:"5s"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SERIALS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SERIALS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	LifecycleTopic string `envconfig:"SERIALS_PUBSUB_LIFECYCLE_TOPIC" default:"serial-lifecycle-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SERIALS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SERIALS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SERIALS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"SERIALS_CRON_INTERVAL" default:"1h"`
	OutboxRetentionDays int           `envconfig:"SERIALS_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	switch {
	case useSQLite:
		if strings.TrimSpace(db.SQLitePath) == "" {
			return fmt.Errorf("%s is required when %s is enabled", EnvSQLitePath, EnvUseSQLite)
		}
		db.Driver = DriverSQLite
		return nil
	case db.DSN != "":
		return nil
	}
	dsn, err := db.legacyDSN()
	if err != nil {
		return err
	}
	db.DSN = dsn
	return nil
}

// legacyDSN assembles a postgres URL from the SERIALS_DB_* parts.
func (db DBConfig) legacyDSN() (string, error) {
	parts := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	var missing []string
	for _, key := range legacyDBEnvVars {
		if parts[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		u.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	return u.String(), nil
}
