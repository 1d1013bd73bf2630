package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/observability"
)

// Version backends for the per-organization permission version
const (
	VersionBackendPostgres = "postgres"
	VersionBackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database and Redis configuration
	Storage StorageConfig

	// Authorization engine configuration
	Authz AuthzConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds PostgreSQL and Redis connection settings
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
	RunMigrations    bool

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuthzConfig holds settings of the org context cache and its collaborators
type AuthzConfig struct {
	// VersionBackend is where permission versions are kept: postgres or redis
	VersionBackend   string
	VersionKeyPrefix string

	ContextCacheSize int
	ContextCacheTTL  time.Duration

	// AuditLogDir enables the file audit logger when set
	AuditLogDir string

	// Rotated audit trails are uploaded to this bucket when set
	AuditArchiveBucket    string
	AuditArchiveRegion    string
	AuditArchivePrefix    string
	AuditArchiveEndpoint  string
	AuditArchiveAccessKey string
	AuditArchiveSecretKey string
	AuditArchivePathStyle bool

	// GrantCleanupSchedule is the cron spec of the expired grant janitor
	GrantCleanupSchedule string

	// Write rate limit per principal
	WriteRateLimit  int
	WriteRateBurst  int
	WriteRateWindow time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Authz:         loadAuthzConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CREWFORM_HOST", "0.0.0.0"),
		Port:            getEnv("CREWFORM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CREWFORM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CREWFORM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CREWFORM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CREWFORM_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CREWFORM_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads database configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("CREWFORM_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("CREWFORM_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("CREWFORM_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  getEnvDuration("CREWFORM_POSTGRES_TIMEOUT", 5*time.Second),
		RunMigrations:    getEnvBool("CREWFORM_RUN_MIGRATIONS", true),
		RedisURL:         getEnv("CREWFORM_REDIS_URL", ""),
		RedisPassword:    getEnv("CREWFORM_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("CREWFORM_REDIS_DB", 0),
	}
}

// loadAuthzConfig loads authorization engine configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		VersionBackend:       strings.ToLower(getEnv("CREWFORM_VERSION_BACKEND", VersionBackendPostgres)),
		VersionKeyPrefix:     getEnv("CREWFORM_VERSION_KEY_PREFIX", "crewform:permission_version"),
		ContextCacheSize:     getEnvInt("CREWFORM_CONTEXT_CACHE_SIZE", 10000),
		ContextCacheTTL:      getEnvDuration("CREWFORM_CONTEXT_CACHE_TTL", 5*time.Minute),
		AuditLogDir:          getEnv("CREWFORM_AUDIT_LOG_DIR", ""),

		AuditArchiveBucket:    getEnv("CREWFORM_AUDIT_ARCHIVE_BUCKET", ""),
		AuditArchiveRegion:    getEnv("CREWFORM_AUDIT_ARCHIVE_REGION", "us-east-1"),
		AuditArchivePrefix:    getEnv("CREWFORM_AUDIT_ARCHIVE_PREFIX", "audit"),
		AuditArchiveEndpoint:  getEnv("CREWFORM_AUDIT_ARCHIVE_ENDPOINT", ""),
		AuditArchiveAccessKey: getEnv("CREWFORM_AUDIT_ARCHIVE_ACCESS_KEY", ""),
		AuditArchiveSecretKey: getEnv("CREWFORM_AUDIT_ARCHIVE_SECRET_KEY", ""),
		AuditArchivePathStyle: getEnvBool("CREWFORM_AUDIT_ARCHIVE_PATH_STYLE", false),

		GrantCleanupSchedule: getEnv("CREWFORM_GRANT_CLEANUP_SCHEDULE", "@every 15m"),
		WriteRateLimit:       getEnvInt("CREWFORM_WRITE_RATE_LIMIT", 120),
		WriteRateBurst:       getEnvInt("CREWFORM_WRITE_RATE_BURST", 20),
		WriteRateWindow:      getEnvDuration("CREWFORM_WRITE_RATE_WINDOW", time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CREWFORM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CREWFORM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CREWFORM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CREWFORM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CREWFORM_OTEL_SERVICE_NAME", "crewform-authz"),
		OTelServiceVersion: getEnv("CREWFORM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CREWFORM_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CREWFORM_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// AuditArchive converts the archive settings to an audit.S3ArchiveConfig
func (a AuthzConfig) AuditArchive() audit.S3ArchiveConfig {
	return audit.S3ArchiveConfig{
		Bucket:       a.AuditArchiveBucket,
		Region:       a.AuditArchiveRegion,
		Prefix:       a.AuditArchivePrefix,
		Endpoint:     a.AuditArchiveEndpoint,
		AccessKey:    a.AuditArchiveAccessKey,
		SecretKey:    a.AuditArchiveSecretKey,
		UsePathStyle: a.AuditArchivePathStyle,
	}
}

// OTel converts the observability settings to an observability.OTelConfig
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.PostgresMaxConns < c.Storage.PostgresMinConns {
		return fmt.Errorf("postgres max connections (%d) must be at least min connections (%d)",
			c.Storage.PostgresMaxConns, c.Storage.PostgresMinConns)
	}

	switch c.Authz.VersionBackend {
	case VersionBackendPostgres:
	case VersionBackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis version backend")
		}
	default:
		return fmt.Errorf("invalid version backend: %s (must be postgres or redis)", c.Authz.VersionBackend)
	}

	if c.Authz.ContextCacheSize <= 0 {
		return fmt.Errorf("context cache size must be positive")
	}
	if c.Authz.ContextCacheTTL <= 0 {
		return fmt.Errorf("context cache TTL must be positive")
	}
	if c.Authz.WriteRateLimit <= 0 || c.Authz.WriteRateBurst < 0 {
		return fmt.Errorf("write rate limit must be positive and burst non-negative")
	}
	if c.Authz.WriteRateWindow <= 0 {
		return fmt.Errorf("write rate window must be positive")
	}
	if c.Authz.AuditArchiveBucket != "" && c.Authz.AuditLogDir == "" {
		return fmt.Errorf("audit archive requires an audit log directory")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
