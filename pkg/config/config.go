package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/grc-api/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RBAC          RBACConfig
	RateLimit     RateLimitConfig
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
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string
	ReplicaURLs  []string
	MaxConns     int
	MinConns     int
	ConnLifetime time.Duration
	Timeout      time.Duration
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds credential resolution settings
type AuthConfig struct {
	// IssuerURL is the identity provider base URL. Tokens must carry it as iss.
	IssuerURL string
	// Audience is matched against aud; empty skips the audience check.
	Audience string
	// JWKSURL overrides the default <issuer>/api/auth/jwks.
	JWKSURL string
	// SessionCheckURL is the external session permission endpoint.
	SessionCheckURL string
	Timeout         time.Duration
	APIKeyHeader    string
	OrgHeader       string
}

// RBACConfig holds role management limits
type RBACConfig struct {
	MaxCustomRoles int
}

// RateLimitConfig controls the request limiter
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	AuditEnabled   bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		RBAC:          RBACConfig{MaxCustomRoles: getEnvInt("GRC_MAX_CUSTOM_ROLES", 20)},
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GRC_HOST", "0.0.0.0"),
		Port:            getEnv("GRC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GRC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GRC_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GRC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GRC_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("GRC_ALLOWED_ORIGINS"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("GRC_DATABASE_URL", ""),
		ReplicaURLs:  getEnvList("GRC_DATABASE_REPLICA_URLS"),
		MaxConns:     getEnvInt("GRC_DB_MAX_CONNS", 20),
		MinConns:     getEnvInt("GRC_DB_MIN_CONNS", 2),
		ConnLifetime: getEnvDuration("GRC_DB_CONN_LIFETIME", 30*time.Minute),
		Timeout:      getEnvDuration("GRC_DB_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("GRC_REDIS_URL", ""),
		Password: getEnv("GRC_REDIS_PASSWORD", ""),
		DB:       getEnvInt("GRC_REDIS_DB", 0),
		PoolSize: getEnvInt("GRC_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() AuthConfig {
	issuer := strings.TrimRight(getEnv("GRC_AUTH_ISSUER_URL", ""), "/")

	cfg := AuthConfig{
		IssuerURL:       issuer,
		Audience:        getEnv("GRC_AUTH_AUDIENCE", ""),
		JWKSURL:         getEnv("GRC_AUTH_JWKS_URL", ""),
		SessionCheckURL: getEnv("GRC_SESSION_CHECK_URL", ""),
		Timeout:         getEnvDuration("GRC_AUTH_TIMEOUT", 5*time.Second),
		APIKeyHeader:    getEnv("GRC_API_KEY_HEADER", "X-API-Key"),
		OrgHeader:       getEnv("GRC_ORG_HEADER", "X-Organization-Id"),
	}
	if cfg.JWKSURL == "" && issuer != "" {
		cfg.JWKSURL = issuer + "/api/auth/jwks"
	}
	if cfg.SessionCheckURL == "" && issuer != "" {
		cfg.SessionCheckURL = issuer + "/api/auth/organization/has-permission"
	}
	return cfg
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("GRC_RATE_LIMIT_ENABLED", true),
		RequestsPerSecond: getEnvFloat("GRC_RATE_LIMIT_RPS", 20),
		Burst:             getEnvInt("GRC_RATE_LIMIT_BURST", 40),
		Window:            getEnvDuration("GRC_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GRC_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GRC_METRICS_ENABLED", true),
		AuditEnabled:       getEnvBool("GRC_AUDIT_ENABLED", true),
		OTelEnabled:        getEnvBool("GRC_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GRC_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GRC_SERVICE_NAME", "grc-api"),
		OTelServiceVersion: getEnv("GRC_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("GRC_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GRC_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("GRC_DATABASE_URL is required"))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, errors.New("database min connections exceed max connections"))
	}

	if c.Auth.IssuerURL == "" {
		errs = append(errs, errors.New("GRC_AUTH_ISSUER_URL is required"))
	} else if u, err := url.Parse(c.Auth.IssuerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid auth issuer URL: %q", c.Auth.IssuerURL))
	}
	if c.Auth.APIKeyHeader == "" || c.Auth.OrgHeader == "" {
		errs = append(errs, errors.New("api key and organization header names are required"))
	}
	if c.Auth.Timeout <= 0 {
		errs = append(errs, errors.New("auth timeout must be positive"))
	}

	if c.RBAC.MaxCustomRoles < 1 {
		errs = append(errs, errors.New("max custom roles must be at least 1"))
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate limit requires positive rps and burst"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
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

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
