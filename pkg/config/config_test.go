package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricat/metricat/pkg/observability"
	"github.com/metricat/metricat/pkg/store"
)

// setRequiredEnv sets the minimum environment for LoadConfig to pass
// validation.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("METRICAT_ACCESS_SECRET", "access-secret-for-tests")
	t.Setenv("METRICAT_REFRESH_SECRET", "refresh-secret-for-tests")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "mcat", cfg.Auth.APIKeyPrefix)
	assert.Equal(t, "@hourly", cfg.Auth.CleanupSchedule)

	assert.Equal(t, store.TypeFile, cfg.Store.Type)
	assert.NotEmpty(t, cfg.Store.FilePath)

	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("METRICAT_HOST", "127.0.0.1")
	t.Setenv("METRICAT_PORT", "3000")
	t.Setenv("METRICAT_ACCESS_TTL", "5m")
	t.Setenv("METRICAT_REFRESH_TTL", "48h")
	t.Setenv("METRICAT_BCRYPT_COST", "12")
	t.Setenv("METRICAT_API_KEY_PREFIX", "staging")
	t.Setenv("METRICAT_STORE_TYPE", "postgres")
	t.Setenv("METRICAT_POSTGRES_URL", "postgres://localhost/metricat?sslmode=disable")
	t.Setenv("METRICAT_POSTGRES_MAX_CONNS", "40")
	t.Setenv("METRICAT_RATE_LIMIT_ENABLED", "true")
	t.Setenv("METRICAT_REDIS_URL", "localhost:6379")
	t.Setenv("METRICAT_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, "staging", cfg.Auth.APIKeyPrefix)
	assert.Equal(t, store.TypePostgres, cfg.Store.Type)
	assert.Equal(t, "postgres://localhost/metricat?sslmode=disable", cfg.Store.PostgresURL)
	assert.Equal(t, 40, cfg.Store.PostgresMaxConns)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "localhost:6379", cfg.RateLimit.RedisURL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metricat.yaml")
	data := `
server:
  port: "4000"
  health_port: "4001"
auth:
  access_secret: file-access-secret
  refresh_secret: file-refresh-secret
  access_ttl: 10m
  api_key_prefix: filecfg
store:
  type: file
  file_path: /tmp/creds.json
observability:
  log_level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("METRICAT_CONFIG_FILE", path)
	// Env wins over the file for the port, file wins over defaults
	// for everything it names.
	t.Setenv("METRICAT_PORT", "5000")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "4001", cfg.Server.HealthPort)
	assert.Equal(t, "file-access-secret", cfg.Auth.AccessSecret)
	assert.Equal(t, 10*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "filecfg", cfg.Auth.APIKeyPrefix)
	assert.Equal(t, "/tmp/creds.json", cfg.Store.FilePath)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("METRICAT_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))
	t.Setenv("METRICAT_CONFIG_FILE", path)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfig_BadDurationInFile(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "bad-duration.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  access_ttl: soon\n"), 0o600))
	t.Setenv("METRICAT_CONFIG_FILE", path)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Auth.AccessSecret = "a"
		cfg.Auth.RefreshSecret = "b"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing access secret",
			mutate:  func(c *Config) { c.Auth.AccessSecret = "" },
			wantErr: "METRICAT_ACCESS_SECRET is required",
		},
		{
			name:    "missing refresh secret",
			mutate:  func(c *Config) { c.Auth.RefreshSecret = "" },
			wantErr: "METRICAT_REFRESH_SECRET is required",
		},
		{
			name:    "identical secrets",
			mutate:  func(c *Config) { c.Auth.RefreshSecret = c.Auth.AccessSecret },
			wantErr: "must differ",
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "port collision",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "non-positive access TTL",
			mutate:  func(c *Config) { c.Auth.AccessTTL = 0 },
			wantErr: "token lifetimes must be positive",
		},
		{
			name: "file store without path",
			mutate: func(c *Config) {
				c.Store.Type = store.TypeFile
				c.Store.FilePath = ""
			},
			wantErr: "file path is required",
		},
		{
			name: "postgres store without URL",
			mutate: func(c *Config) {
				c.Store.Type = store.TypePostgres
				c.Store.PostgresURL = ""
			},
			wantErr: "postgres URL is required",
		},
		{
			name:    "unknown store type",
			mutate:  func(c *Config) { c.Store.Type = "dynamo" },
			wantErr: "invalid store type",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("METRICAT_TEST_STR", "value")
	t.Setenv("METRICAT_TEST_BOOL", "TRUE")
	t.Setenv("METRICAT_TEST_INT", "42")
	t.Setenv("METRICAT_TEST_INT_BAD", "forty-two")
	t.Setenv("METRICAT_TEST_DUR", "90s")

	assert.Equal(t, "value", getEnv("METRICAT_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnv("METRICAT_TEST_STR_UNSET", "fallback"))
	assert.True(t, getEnvBool("METRICAT_TEST_BOOL", false))
	assert.False(t, getEnvBool("METRICAT_TEST_BOOL_UNSET", false))
	assert.Equal(t, 42, getEnvInt("METRICAT_TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("METRICAT_TEST_INT_BAD", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("METRICAT_TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("METRICAT_TEST_DUR_UNSET", time.Minute))
}
