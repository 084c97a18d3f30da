// Package config provides application configuration management.
//
// # Overview
//
// Configuration is loaded with increasing precedence: compiled-in
// defaults, an optional YAML file named by METRICAT_CONFIG_FILE, and
// finally METRICAT_* environment variables. LoadConfig validates the
// result before returning it.
//
// # Configuration Structure
//
// Server settings:
//
//	METRICAT_HOST="0.0.0.0"
//	METRICAT_PORT="8080"
//	METRICAT_HEALTH_PORT="9090"
//	METRICAT_READ_TIMEOUT="15s"
//	METRICAT_WRITE_TIMEOUT="15s"
//
// Auth settings (the two signing secrets are required and must
// differ):
//
//	METRICAT_ACCESS_SECRET="..."
//	METRICAT_REFRESH_SECRET="..."
//	METRICAT_ACCESS_TTL="15m"
//	METRICAT_REFRESH_TTL="168h"
//	METRICAT_BCRYPT_COST="10"
//	METRICAT_API_KEY_PREFIX="mcat"
//	METRICAT_CLEANUP_SCHEDULE="@hourly"
//
// Store settings:
//
//	METRICAT_STORE_TYPE="file"  # file, postgres
//	METRICAT_STORE_FILE_PATH="/var/lib/metricat/credentials.json"
//	METRICAT_POSTGRES_URL="postgres://localhost/metricat"
//	METRICAT_POSTGRES_MAX_CONNS="20"
//
// Rate limiting (a Redis URL makes the limiter shared across
// instances):
//
//	METRICAT_RATE_LIMIT_ENABLED="true"
//	METRICAT_REDIS_URL="localhost:6379"
//
// Observability settings:
//
//	METRICAT_LOG_LEVEL="info"  # debug, info, warn, error
//	METRICAT_METRICS_ENABLED="true"
//	METRICAT_OTEL_ENABLED="false"
//	METRICAT_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Store: %s\n", cfg.Store.Type)
//
// # Related Packages
//
//   - pkg/store: Uses store configuration
//   - pkg/observability: Uses observability configuration
package config
