package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/storage/repository"
)

const snapshotPrefix = "records-"

// RecordSource is anything that can list the current contact records.
type RecordSource interface {
	List() []repository.ContactRecord
}

// Snapshot is the on-disk backup document.
type Snapshot struct {
	Namespace string                     `json:"namespace"`
	TakenAt   time.Time                  `json:"taken_at"`
	Records   []repository.ContactRecord `json:"records"`
}

// BackupScheduler writes JSON snapshots of the record set whenever its cron
// expression is due. Evaluation happens once per minute.
type BackupScheduler struct {
	expr      string
	dir       string
	namespace string
	keep      int
	source    RecordSource
	gron      *gronx.Gronx
	now       func() time.Time
	lastRun   time.Time
}

func NewBackupScheduler(expr, dir, namespace string, keep int, source RecordSource) (*BackupScheduler, error) {
	expr = strings.TrimSpace(expr)
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid backup schedule %q", expr)
	}
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	return &BackupScheduler{
		expr:      expr,
		dir:       dir,
		namespace: namespace,
		keep:      keep,
		source:    source,
		gron:      gronx.New(),
		now:       time.Now,
	}, nil
}

// Run blocks until ctx is cancelled.
func (b *BackupScheduler) Run(ctx context.Context) {
	logger.InfoCF("cron", "Backup scheduler started", map[string]interface{}{
		"schedule": b.expr,
		"dir":      b.dir,
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("cron", "Backup scheduler stopped")
			return
		case <-ticker.C:
			b.Tick(b.now())
		}
	}
}

// Tick takes a snapshot when the schedule is due at t. It runs at most once
// per calendar minute. Reports whether a snapshot was written.
func (b *BackupScheduler) Tick(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	if !b.lastRun.IsZero() && !minute.After(b.lastRun) {
		return false
	}

	due, err := b.gron.IsDue(b.expr, minute)
	if err != nil {
		logger.ErrorCF("cron", "Failed to evaluate backup schedule", map[string]interface{}{
			"schedule": b.expr,
			"error":    err.Error(),
		})
		return false
	}
	if !due {
		return false
	}
	b.lastRun = minute

	path, err := b.Backup(t)
	if err != nil {
		logger.ErrorCF("cron", "Backup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	logger.InfoCF("cron", "Backup written", map[string]interface{}{
		"path": path,
	})
	return true
}

// Backup writes a snapshot immediately and prunes old ones.
func (b *BackupScheduler) Backup(t time.Time) (string, error) {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	snap := Snapshot{
		Namespace: b.namespace,
		TakenAt:   t.UTC(),
		Records:   b.source.List(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	name := snapshotPrefix + t.UTC().Format("20060102-150405") + ".json"
	path := filepath.Join(b.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := b.prune(); err != nil {
		logger.WarnCF("cron", "Failed to prune old backups", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return path, nil
}

func (b *BackupScheduler) prune() error {
	if b.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= b.keep {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-b.keep] {
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot loads a snapshot written by Backup.
func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return snap, nil
}
