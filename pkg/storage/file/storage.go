package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// FileStorage implements the storage.Storage interface using one JSON document
// per namespace under <dir>/records/.
type FileStorage struct {
	dir     string
	records *recordRepository
}

// NewFileStorage creates a new file-based storage instance.
func NewFileStorage(dir, namespace string) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("file path is required for file-based storage")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" || strings.ContainsAny(namespace, `/\`) || namespace == "." || namespace == ".." {
		return nil, fmt.Errorf("invalid storage namespace %q", namespace)
	}

	path := filepath.Join(dir, "records", namespace+".json")
	return &FileStorage{
		dir:     dir,
		records: newRecordRepository(path),
	}, nil
}

// Connect ensures the records directory exists.
func (fs *FileStorage) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(fs.records.path), 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}
	return nil
}

// Close closes the file-based storage (no-op for files).
func (fs *FileStorage) Close() error {
	return nil
}

// Records returns the contact record repository.
func (fs *FileStorage) Records() repository.RecordRepository {
	return fs.records
}

// Path returns the record document location.
func (fs *FileStorage) Path() string {
	return fs.records.path
}

// Ping checks that the records directory is reachable.
func (fs *FileStorage) Ping(ctx context.Context) error {
	info, err := os.Stat(filepath.Dir(fs.records.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(fs.records.path))
	}
	return nil
}
