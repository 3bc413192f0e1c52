package storage

import (
	"context"
	"time"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// Storage is the main storage abstraction interface.
type Storage interface {
	// Records returns the contact record repository for the configured namespace.
	Records() repository.RecordRepository

	// Lifecycle management
	Connect(ctx context.Context) error
	Close() error

	// Health check
	Ping(ctx context.Context) error
}

// Config holds storage configuration for different backends.
type Config struct {
	Type         string        // "file", "postgres", "sqlite"
	FilePath     string        // For file-based storage (directory) or the sqlite database file
	DatabaseURL  string        // For postgres (connection string)
	Namespace    string        // Keeps record sets of different pipelines apart
	SSLEnabled   bool          // Enable SSL for database connections
	MaxIdleConns int           // Database connection pool - max idle connections
	MaxOpenConns int           // Database connection pool - max open connections
	MaxLifetime  time.Duration // Database connection pool - max lifetime
}

// DefaultConfig returns a default storage configuration.
func DefaultConfig(storageType string) Config {
	return Config{
		Type:         storageType,
		Namespace:    "default",
		MaxIdleConns: 5,
		MaxOpenConns: 25,
		MaxLifetime:  5 * time.Minute,
	}
}
