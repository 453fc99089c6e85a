package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewWorkflowConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr     string
	OTLPEndpoint string
	AutoMigrate  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnowflakeNodeID int64

	AgentRuntimeURL     string
	AgentRuntimeTimeout time.Duration

	Telemetry        TelemetryConfig
	Orchestrator     OrchestratorConfig
	WebhookRateLimit RateLimitConfig
	MetricsPush      MetricsPushConfig
}

// TelemetryConfig covers logs and OTLP export. OTLPEndpoint on Config is the
// collector address.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

// MetricsPushConfig ships accounting gauges to a hosted metrics backend.
// Exporter is prometheus_remote_write or prometheus_pushgateway.
type MetricsPushConfig struct {
	Enabled    bool
	Exporter   string
	Endpoint   string
	AuthToken  string
	InstanceID string
	Interval   time.Duration
}

// RateLimitConfig is a token bucket budget. PerSecond is the refill rate.
type RateLimitConfig struct {
	Enabled   bool
	PerSecond float64
	Burst     int
}

// OrchestratorConfig controls the background workflow loop.
type OrchestratorConfig struct {
	Enabled      bool
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	JobTimeout   time.Duration
	LockTTL      time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:             getenv("APP_SERVICE", "procura"),
		AppVersion:          getenv("APP_VERSION", "0.1.0"),
		Environment:         getenv("ENVIRONMENT", "development"),
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:        getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		AutoMigrate:         getenvBool("AUTO_MIGRATE", false),
		DBType:              getenv("DATABASE_TYPE", "postgres"),
		DBHost:              getenv("DATABASE_HOST", "localhost"),
		DBPort:              getenv("DATABASE_PORT", "5432"),
		DBName:              getenv("DATABASE_NAME", "procura"),
		DBUser:              getenv("DATABASE_USER", "postgres"),
		DBPassword:          getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:           getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:       getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:       getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:   getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:   getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RedisAddr:           strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:       getenv("REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("REDIS_DB", 0),
		AgentRuntimeURL:     strings.TrimRight(strings.TrimSpace(getenv("AGENT_RUNTIME_URL", "")), "/"),
		AgentRuntimeTimeout: getenvDuration("AGENT_RUNTIME_TIMEOUT", 90*time.Second),
		SnowflakeNodeID:     int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Orchestrator: OrchestratorConfig{
			Enabled:      getenvBool("ORCHESTRATOR_ENABLED", true),
			Workers:      getenvInt("ORCHESTRATOR_WORKERS", 4),
			BatchSize:    getenvInt("ORCHESTRATOR_BATCH_SIZE", 50),
			PollInterval: getenvDuration("ORCHESTRATOR_POLL_INTERVAL", 5*time.Second),
			JobTimeout:   getenvDuration("ORCHESTRATOR_JOB_TIMEOUT", 2*time.Minute),
			LockTTL:      getenvDuration("ORCHESTRATOR_LOCK_TTL", 5*time.Minute),
		},
		WebhookRateLimit: RateLimitConfig{
			Enabled:   getenvBool("WEBHOOK_RATE_LIMIT_ENABLED", true),
			PerSecond: getenvFloat("WEBHOOK_RATE_LIMIT_PER_SECOND", 20),
			Burst:     getenvInt("WEBHOOK_RATE_LIMIT_BURST", 100),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:    getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:   strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "prometheus_remote_write"))),
			Endpoint:   strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken:  strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			InstanceID: strings.TrimSpace(getenv("METRICS_PUSH_INSTANCE_ID", "")),
			Interval:   getenvDuration("METRICS_PUSH_INTERVAL", 5*time.Minute),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
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
