package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metricat/metricat/pkg/observability"
	"github.com/metricat/metricat/pkg/store"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Auth holds the credential subsystem settings
	Auth AuthConfig

	// Store selects and configures the credential store backend
	Store store.Config

	// RateLimit configures request rate limiting
	RateLimit RateLimitConfig

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

// AuthConfig holds token, password, and API key settings. The two
// signing secrets are required and must differ.
type AuthConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
	APIKeyPrefix  string

	// CleanupSchedule is a cron expression for the expired-credential
	// sweep. Empty disables the sweep.
	CleanupSchedule string
}

// RateLimitConfig holds rate limiting settings. With a Redis URL set
// the limiter is shared across instances; otherwise it is in-process.
type RateLimitConfig struct {
	Enabled       bool
	RedisURL      string
	RedisPassword string
	RedisDB       int
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
	OTelInsecure       bool
}

// LoadConfig loads configuration with increasing precedence: defaults,
// then the YAML file named by METRICAT_CONFIG_FILE (when set), then
// METRICAT_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("METRICAT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Auth: AuthConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      7 * 24 * time.Hour,
			BcryptCost:      10,
			APIKeyPrefix:    "mcat",
			CleanupSchedule: "@hourly",
		},
		Store: store.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "metricat",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// fileConfig is the YAML shape of the config file. Durations are
// strings in Go notation ("15m"); pointers distinguish "absent" from
// zero for booleans and ints.
type fileConfig struct {
	Server struct {
		Host            string `yaml:"host"`
		Port            string `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		HealthPort      string `yaml:"health_port"`
	} `yaml:"server"`
	Auth struct {
		AccessSecret    string `yaml:"access_secret"`
		RefreshSecret   string `yaml:"refresh_secret"`
		AccessTTL       string `yaml:"access_ttl"`
		RefreshTTL      string `yaml:"refresh_ttl"`
		BcryptCost      *int   `yaml:"bcrypt_cost"`
		APIKeyPrefix    string `yaml:"api_key_prefix"`
		CleanupSchedule string `yaml:"cleanup_schedule"`
	} `yaml:"auth"`
	Store struct {
		Type             string `yaml:"type"`
		FilePath         string `yaml:"file_path"`
		PostgresURL      string `yaml:"postgres_url"`
		PostgresMaxConns *int   `yaml:"postgres_max_conns"`
		PostgresMinConns *int   `yaml:"postgres_min_conns"`
		PostgresTimeout  string `yaml:"postgres_timeout"`
	} `yaml:"store"`
	RateLimit struct {
		Enabled       *bool  `yaml:"enabled"`
		RedisURL      string `yaml:"redis_url"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       *int   `yaml:"redis_db"`
	} `yaml:"rate_limit"`
	Observability struct {
		LogLevel           string `yaml:"log_level"`
		MetricsEnabled     *bool  `yaml:"metrics_enabled"`
		OTelEnabled        *bool  `yaml:"otel_enabled"`
		OTelEndpoint       string `yaml:"otel_endpoint"`
		OTelServiceName    string `yaml:"otel_service_name"`
		OTelServiceVersion string `yaml:"otel_service_version"`
		OTelInsecure       *bool  `yaml:"otel_insecure"`
	} `yaml:"observability"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Server.Host, fc.Server.Host)
	setString(&c.Server.Port, fc.Server.Port)
	setString(&c.Server.HealthPort, fc.Server.HealthPort)
	if err := setDuration(&c.Server.ReadTimeout, fc.Server.ReadTimeout); err != nil {
		return fmt.Errorf("config file %s: read_timeout: %w", path, err)
	}
	if err := setDuration(&c.Server.WriteTimeout, fc.Server.WriteTimeout); err != nil {
		return fmt.Errorf("config file %s: write_timeout: %w", path, err)
	}
	if err := setDuration(&c.Server.IdleTimeout, fc.Server.IdleTimeout); err != nil {
		return fmt.Errorf("config file %s: idle_timeout: %w", path, err)
	}
	if err := setDuration(&c.Server.ShutdownTimeout, fc.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("config file %s: shutdown_timeout: %w", path, err)
	}

	setString(&c.Auth.AccessSecret, fc.Auth.AccessSecret)
	setString(&c.Auth.RefreshSecret, fc.Auth.RefreshSecret)
	setString(&c.Auth.APIKeyPrefix, fc.Auth.APIKeyPrefix)
	setString(&c.Auth.CleanupSchedule, fc.Auth.CleanupSchedule)
	if err := setDuration(&c.Auth.AccessTTL, fc.Auth.AccessTTL); err != nil {
		return fmt.Errorf("config file %s: access_ttl: %w", path, err)
	}
	if err := setDuration(&c.Auth.RefreshTTL, fc.Auth.RefreshTTL); err != nil {
		return fmt.Errorf("config file %s: refresh_ttl: %w", path, err)
	}
	if fc.Auth.BcryptCost != nil {
		c.Auth.BcryptCost = *fc.Auth.BcryptCost
	}

	setString(&c.Store.Type, fc.Store.Type)
	setString(&c.Store.FilePath, fc.Store.FilePath)
	setString(&c.Store.PostgresURL, fc.Store.PostgresURL)
	if fc.Store.PostgresMaxConns != nil {
		c.Store.PostgresMaxConns = *fc.Store.PostgresMaxConns
	}
	if fc.Store.PostgresMinConns != nil {
		c.Store.PostgresMinConns = *fc.Store.PostgresMinConns
	}
	if err := setDuration(&c.Store.PostgresTimeout, fc.Store.PostgresTimeout); err != nil {
		return fmt.Errorf("config file %s: postgres_timeout: %w", path, err)
	}

	if fc.RateLimit.Enabled != nil {
		c.RateLimit.Enabled = *fc.RateLimit.Enabled
	}
	setString(&c.RateLimit.RedisURL, fc.RateLimit.RedisURL)
	setString(&c.RateLimit.RedisPassword, fc.RateLimit.RedisPassword)
	if fc.RateLimit.RedisDB != nil {
		c.RateLimit.RedisDB = *fc.RateLimit.RedisDB
	}

	if fc.Observability.LogLevel != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(fc.Observability.LogLevel)
	}
	if fc.Observability.MetricsEnabled != nil {
		c.Observability.MetricsEnabled = *fc.Observability.MetricsEnabled
	}
	if fc.Observability.OTelEnabled != nil {
		c.Observability.OTelEnabled = *fc.Observability.OTelEnabled
	}
	setString(&c.Observability.OTelEndpoint, fc.Observability.OTelEndpoint)
	setString(&c.Observability.OTelServiceName, fc.Observability.OTelServiceName)
	setString(&c.Observability.OTelServiceVersion, fc.Observability.OTelServiceVersion)
	if fc.Observability.OTelInsecure != nil {
		c.Observability.OTelInsecure = *fc.Observability.OTelInsecure
	}

	return nil
}

func (c *Config) loadEnv() {
	// Server
	c.Server.Host = getEnv("METRICAT_HOST", c.Server.Host)
	c.Server.Port = getEnv("METRICAT_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("METRICAT_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("METRICAT_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("METRICAT_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("METRICAT_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("METRICAT_HEALTH_PORT", c.Server.HealthPort)

	// Auth
	c.Auth.AccessSecret = getEnv("METRICAT_ACCESS_SECRET", c.Auth.AccessSecret)
	c.Auth.RefreshSecret = getEnv("METRICAT_REFRESH_SECRET", c.Auth.RefreshSecret)
	c.Auth.AccessTTL = getEnvDuration("METRICAT_ACCESS_TTL", c.Auth.AccessTTL)
	c.Auth.RefreshTTL = getEnvDuration("METRICAT_REFRESH_TTL", c.Auth.RefreshTTL)
	c.Auth.BcryptCost = getEnvInt("METRICAT_BCRYPT_COST", c.Auth.BcryptCost)
	c.Auth.APIKeyPrefix = getEnv("METRICAT_API_KEY_PREFIX", c.Auth.APIKeyPrefix)
	c.Auth.CleanupSchedule = getEnv("METRICAT_CLEANUP_SCHEDULE", c.Auth.CleanupSchedule)

	// Store
	c.Store.Type = getEnv("METRICAT_STORE_TYPE", c.Store.Type)
	c.Store.FilePath = getEnv("METRICAT_STORE_FILE_PATH", c.Store.FilePath)
	c.Store.PostgresURL = getEnv("METRICAT_POSTGRES_URL", c.Store.PostgresURL)
	c.Store.PostgresMaxConns = getEnvInt("METRICAT_POSTGRES_MAX_CONNS", c.Store.PostgresMaxConns)
	c.Store.PostgresMinConns = getEnvInt("METRICAT_POSTGRES_MIN_CONNS", c.Store.PostgresMinConns)
	c.Store.PostgresTimeout = getEnvDuration("METRICAT_POSTGRES_TIMEOUT", c.Store.PostgresTimeout)

	// Rate limiting
	c.RateLimit.Enabled = getEnvBool("METRICAT_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RedisURL = getEnv("METRICAT_REDIS_URL", c.RateLimit.RedisURL)
	c.RateLimit.RedisPassword = getEnv("METRICAT_REDIS_PASSWORD", c.RateLimit.RedisPassword)
	c.RateLimit.RedisDB = getEnvInt("METRICAT_REDIS_DB", c.RateLimit.RedisDB)

	// Observability
	if level := os.Getenv("METRICAT_LOG_LEVEL"); level != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(level)
	}
	c.Observability.MetricsEnabled = getEnvBool("METRICAT_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("METRICAT_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("METRICAT_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("METRICAT_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("METRICAT_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("METRICAT_OTEL_INSECURE", c.Observability.OTelInsecure)
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

	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("METRICAT_ACCESS_SECRET is required")
	}
	if c.Auth.RefreshSecret == "" {
		return fmt.Errorf("METRICAT_REFRESH_SECRET is required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("access and refresh secrets must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	switch c.Store.Type {
	case store.TypeFile:
		if c.Store.FilePath == "" {
			return fmt.Errorf("file path is required for the file store")
		}
	case store.TypePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be file or postgres)", c.Store.Type)
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

// setString overwrites dest only when the file supplied a value
func setString(dest *string, value string) {
	if value != "" {
		*dest = value
	}
}

// setDuration parses a Go duration string into dest when non-empty
func setDuration(dest *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*dest = parsed
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
