// Package sqldb stores contact records in PostgreSQL or SQLite.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Config holds SQL-specific configuration.
type Config struct {
	DatabaseURL  string // postgres connection string, or sqlite file path
	Namespace    string
	SSLEnabled   bool
	MaxIdleConns int
	MaxOpenConns int
	MaxLifetime  time.Duration
}

// SQLStorage implements the storage.Storage interface for PostgreSQL and SQLite.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
	records *recordRepository
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(cfg Config) (*SQLStorage, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required for PostgreSQL storage")
	}

	databaseURL := cfg.DatabaseURL
	if !strings.Contains(databaseURL, "sslmode=") {
		sep := "?"
		if strings.Contains(databaseURL, "?") {
			sep = "&"
		}

		if cfg.SSLEnabled {
			databaseURL = databaseURL + sep + "sslmode=require"
		} else {
			databaseURL = databaseURL + sep + "sslmode=disable"
		}
	}
	// If sslmode is already in the URL, respect the existing value

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	return newSQLStorage(db, Postgres, cfg.Namespace), nil
}

// NewSQLiteStorage opens (or creates) a SQLite database file.
func NewSQLiteStorage(cfg Config) (*SQLStorage, error) {
	path := cfg.DatabaseURL
	if path == "" {
		return nil, fmt.Errorf("database path is required for SQLite storage")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// Serialize all database access through a single connection to prevent SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return newSQLStorage(db, SQLite, cfg.Namespace), nil
}

func newSQLStorage(db *sql.DB, dialect Dialect, namespace string) *SQLStorage {
	if namespace == "" {
		namespace = "default"
	}
	return &SQLStorage{
		db:      db,
		dialect: dialect,
		records: newRecordRepository(db, dialect, namespace),
	}
}

// Connect establishes connection and runs migrations.
func (s *SQLStorage) Connect(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(ctx, s.db, s.dialect); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Records returns the contact record repository.
func (s *SQLStorage) Records() repository.RecordRepository {
	return s.records
}

// Ping checks if the database connection is alive.
func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
