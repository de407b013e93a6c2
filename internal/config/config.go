package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelSamplingRatio float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	StoreBackend     string
	StoreFilePath    string
	LedgerMaxEntries int

	CatalogFile   string
	DefaultPlan   string
	SnowflakeNode int64 // -1 when unset

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	RateLimitEnabled bool
	RateLimitRate    float64
	RateLimitBurst   int

	SnapshotTTL  time.Duration
	SnapshotSize int

	ResetSchedule  string
	ResetBatchSize int
	SchedulerJobs  string
}

const (
	StoreBackendSQL  = "sql"
	StoreBackendFile = "file"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "luc"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:       getenvBool("OTEL_ENABLED", false),
		OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		OTLPProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "sqlite")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "luc"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "luc.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		StoreBackend:      normalizeStoreBackend(getenv("STORE_BACKEND", StoreBackendSQL)),
		StoreFilePath:     getenv("STORE_FILE_PATH", "luc-data.json"),
		LedgerMaxEntries:  getenvInt("LEDGER_MAX_ENTRIES", 1000),
		CatalogFile:       strings.TrimSpace(getenv("LUC_CATALOG_FILE", "")),
		DefaultPlan:       strings.TrimSpace(getenv("DEFAULT_PLAN", "free")),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", -1),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		LockTTL:           getenvDuration("LOCK_TTL", 10*time.Second),
		RateLimitEnabled:  getenvBool("RATE_LIMIT_ENABLED", false),
		RateLimitRate:     getenvFloat("RATE_LIMIT_RATE", 20),
		RateLimitBurst:    getenvInt("RATE_LIMIT_BURST", 40),
		SnapshotTTL:       getenvDuration("SNAPSHOT_TTL", 30*time.Second),
		SnapshotSize:      getenvInt("SNAPSHOT_SIZE", 4096),
		ResetSchedule:     getenv("RESET_SCHEDULE", "@every 1m"),
		ResetBatchSize:    getenvInt("RESET_BATCH_SIZE", 100),
		SchedulerJobs:     getenv("SCHEDULER_JOBS", ""),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func normalizeStoreBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StoreBackendFile:
		return StoreBackendFile
	default:
		return StoreBackendSQL
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
