package store

import (
	"fmt"
	"time"

	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/store/postgres"
)

// Backend type names accepted by Config.Type.
const (
	TypeFile     = "file"
	TypePostgres = "postgres"
)

// Config selects and configures a credential store backend.
type Config struct {
	Type string // "file" or "postgres"

	// File backend
	FilePath string

	// PostgreSQL backend
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
}

// DefaultConfig returns sensible defaults (file backend).
func DefaultConfig() Config {
	return Config{
		Type:             TypeFile,
		FilePath:         "/var/lib/metricat/credentials.json",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
	}
}

// New creates the backend named by cfg.Type.
func New(cfg Config) (auth.CredentialStore, error) {
	switch cfg.Type {
	case TypeFile, "":
		return NewFileStore(cfg.FilePath)
	case TypePostgres:
		return postgres.NewStore(postgres.Config{
			URL:      cfg.PostgresURL,
			MaxConns: cfg.PostgresMaxConns,
			MinConns: cfg.PostgresMinConns,
			Timeout:  cfg.PostgresTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
