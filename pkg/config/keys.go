package config

// EnvPrefix is passed to envconfig; every field carries its full key so the prefix is informational.
const EnvPrefix = "SERIALS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv           = "SERIALS_APP_ENV"
	EnvPort             = "SERIALS_APP_PORT"
	EnvDBDSN            = "SERIALS_DB_DSN"
	EnvDBHost           = "SERIALS_DB_HOST"
	EnvDBUser           = "SERIALS_DB_USER"
	EnvDBName           = "SERIALS_DB_NAME"
	EnvSQLitePath       = "SERIALS_SQLITE_PATH"
	EnvUseSQLite        = "SERIALS_USE_SQLITE"
	EnvRedisURL         = "SERIALS_REDIS_URL"
	EnvRedisAddr        = "SERIALS_REDIS_ADDR"
	EnvDistributedLocks = "SERIALS_DISTRIBUTED_LOCKS"
	EnvOrderServiceURL  = "SERIALS_ORDER_SERVICE_URL"
	EnvGCPProjectID     = "SERIALS_GCP_PROJECT_ID"
	EnvLifecycleTopic   = "SERIALS_PUBSUB_LIFECYCLE_TOPIC"
	EnvOutboxMaxAttempt = "SERIALS_OUTBOX_MAX_ATTEMPTS"
	EnvAllocationLock   = "SERIALS_ALLOCATION_LOCK_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
