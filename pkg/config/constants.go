package config

const (
	EnvPrefix = "TRADEPOST"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv           = "TRADEPOST_APP_ENV"
	EnvPort             = "TRADEPOST_APP_PORT"
	EnvDBDSN            = "TRADEPOST_DB_DSN"
	EnvDBHost           = "TRADEPOST_DB_HOST"
	EnvDBUser           = "TRADEPOST_DB_USER"
	EnvDBName           = "TRADEPOST_DB_NAME"
	EnvUseSQLite        = "TRADEPOST_USE_SQLITE"
	EnvRedisURL         = "TRADEPOST_REDIS_URL"
	EnvJWTSecret        = "TRADEPOST_JWT_SECRET"
	EnvJWTIssuer        = "TRADEPOST_JWT_ISSUER"
	EnvPlatformFeeType  = "TRADEPOST_PLATFORM_FEE_TYPE"
	EnvPlatformFeeValue = "TRADEPOST_PLATFORM_FEE_VALUE"
	EnvClearingPeriod   = "TRADEPOST_CLEARING_PERIOD"
	EnvInventoryBaseURL = "TRADEPOST_INVENTORY_BASE_URL"
	EnvInventoryTimeout = "TRADEPOST_INVENTORY_TIMEOUT"
	EnvIdentityBaseURL  = "TRADEPOST_IDENTITY_BASE_URL"
)

var dbComponentEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
