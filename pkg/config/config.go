package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Identity      IdentityConfig
	Storage       storage.Config
	Auth          AuthConfig
	Observability ObservabilityConfig
	Ingest        IngestConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// IdentityConfig holds the hosted identity provider configuration.
// URL and AnonKey are mandatory: the portal cannot authenticate anyone
// without them, so their absence is a fatal startup error.
type IdentityConfig struct {
	URL     string
	AnonKey string

	// OAuth (OIDC) sign-in
	OAuthIssuerURL    string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	OAuthScopes       []string
}

// AuthConfig holds portal-side authentication behavior
type AuthConfig struct {
	// ProfileLookup selects the authorization-table layout:
	// "single" (profiles table only) or "dual" (admin_users + profiles).
	ProfileLookup string

	// SessionTTL is how long an idle portal session lives in Redis.
	SessionTTL time.Duration

	// DeniedRedirectDelay is how long the callback page shows a denial
	// message before redirecting back to /login.
	DeniedRedirectDelay time.Duration

	SessionCookieName string
	SecureCookies     bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// IngestConfig holds the optional local asset-ingest watcher settings
type IngestConfig struct {
	Enabled  bool
	WatchDir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Identity:      loadIdentityConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
		Ingest:        loadIngestConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PORTAL_HOST", "0.0.0.0"),
		Port:            getEnv("PORTAL_PORT", "8080"),
		BaseURL:         getEnv("PORTAL_BASE_URL", "http://localhost:8080"),
		ReadTimeout:     getEnvDuration("PORTAL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PORTAL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PORTAL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PORTAL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PORTAL_HEALTH_PORT", "9090"),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		URL:               getEnv("PORTAL_IDENTITY_URL", ""),
		AnonKey:           getEnv("PORTAL_IDENTITY_ANON_KEY", ""),
		OAuthIssuerURL:    getEnv("PORTAL_OAUTH_ISSUER_URL", ""),
		OAuthClientID:     getEnv("PORTAL_OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("PORTAL_OAUTH_CLIENT_SECRET", ""),
		OAuthRedirectURL:  getEnv("PORTAL_OAUTH_REDIRECT_URL", ""),
		OAuthScopes:       getEnvList("PORTAL_OAUTH_SCOPES", []string{"openid", "email", "profile"}),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("PORTAL_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("PORTAL_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PORTAL_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PORTAL_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if s3Endpoint := getEnv("PORTAL_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("PORTAL_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("PORTAL_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("PORTAL_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("PORTAL_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("PORTAL_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	if redisURL := getEnv("PORTAL_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("PORTAL_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("PORTAL_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		ProfileLookup:       getEnv("PORTAL_PROFILE_LOOKUP", "single"),
		SessionTTL:          getEnvDuration("PORTAL_SESSION_TTL", 24*time.Hour),
		DeniedRedirectDelay: getEnvDuration("PORTAL_DENIED_REDIRECT_DELAY", 3*time.Second),
		SessionCookieName:   getEnv("PORTAL_SESSION_COOKIE", "portal_session"),
		SecureCookies:       getEnvBool("PORTAL_SECURE_COOKIES", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PORTAL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PORTAL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PORTAL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PORTAL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PORTAL_OTEL_SERVICE_NAME", "partner-portal"),
		OTelServiceVersion: getEnv("PORTAL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PORTAL_OTEL_INSECURE", true),
	}
}

func loadIngestConfig() IngestConfig {
	dir := getEnv("PORTAL_INGEST_DIR", "")
	return IngestConfig{
		Enabled:  dir != "",
		WatchDir: dir,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// The identity provider is not optional (fatal startup error when absent)
	if c.Identity.URL == "" {
		return fmt.Errorf("identity provider URL is required (PORTAL_IDENTITY_URL)")
	}
	if c.Identity.AnonKey == "" {
		return fmt.Errorf("identity provider anon key is required (PORTAL_IDENTITY_ANON_KEY)")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required (PORTAL_POSTGRES_URL)")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required (PORTAL_REDIS_URL)")
	}

	switch c.Auth.ProfileLookup {
	case "single", "dual":
	default:
		return fmt.Errorf("invalid profile lookup mode: %s (must be single or dual)", c.Auth.ProfileLookup)
	}

	// OAuth is optional, but when configured it must be complete
	if c.Identity.OAuthIssuerURL != "" {
		if c.Identity.OAuthClientID == "" {
			return fmt.Errorf("OAuth client ID is required when an issuer is configured")
		}
		if c.Identity.OAuthRedirectURL == "" {
			return fmt.Errorf("OAuth redirect URL is required when an issuer is configured")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
