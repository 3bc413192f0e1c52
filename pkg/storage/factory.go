package storage

import (
	"fmt"

	"github.com/relaybot/relaybot/pkg/storage/file"
	"github.com/relaybot/relaybot/pkg/storage/sqldb"
)

// NewStorage creates a Storage implementation based on the provided configuration.
// Supported types: "file", "postgres", "sqlite"
func NewStorage(cfg Config) (Storage, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	switch cfg.Type {
	case "file", "":
		return file.NewFileStorage(cfg.FilePath, cfg.Namespace)
	case "postgres":
		return sqldb.NewPostgresStorage(sqldb.Config{
			DatabaseURL:  cfg.DatabaseURL,
			Namespace:    cfg.Namespace,
			SSLEnabled:   cfg.SSLEnabled,
			MaxIdleConns: cfg.MaxIdleConns,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxLifetime:  cfg.MaxLifetime,
		})
	case "sqlite":
		return sqldb.NewSQLiteStorage(sqldb.Config{
			DatabaseURL: cfg.FilePath,
			Namespace:   cfg.Namespace,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: file, postgres, sqlite)", cfg.Type)
	}
}
