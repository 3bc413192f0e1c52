package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// recordDocument is the on-disk shape: contact id -> record.
type recordDocument map[string]recordEntry

type recordEntry struct {
	LastWelcomeAt int64             `json:"last_welcome_at"`
	History       []repository.Turn `json:"history"`
	State         repository.State  `json:"state"`
	UpdatedAt     int64             `json:"updated_at,omitempty"`
}

type recordRepository struct {
	path string
	mu   sync.Mutex
}

func newRecordRepository(path string) *recordRepository {
	return &recordRepository{path: path}
}

func (r *recordRepository) LoadAll(ctx context.Context) ([]repository.ContactRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", r.path, err)
	}

	var doc recordDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed record file %s: %w", r.path, err)
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]repository.ContactRecord, 0, len(doc))
	for _, id := range ids {
		entry := doc[id]
		if !entry.State.Valid() {
			return nil, fmt.Errorf("malformed record file %s: contact %s has unknown state %q", r.path, id, entry.State)
		}
		history := entry.History
		if history == nil {
			history = []repository.Turn{}
		}
		records = append(records, repository.ContactRecord{
			ContactID:     id,
			LastWelcomeAt: entry.LastWelcomeAt,
			History:       history,
			State:         entry.State,
			UpdatedAt:     entry.UpdatedAt,
		})
	}
	return records, nil
}

// SaveAll rewrites the whole document through a temp file and rename.
func (r *recordRepository) SaveAll(ctx context.Context, records []repository.ContactRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := make(recordDocument, len(records))
	for _, rec := range records {
		history := rec.History
		if history == nil {
			history = []repository.Turn{}
		}
		doc[rec.ContactID] = recordEntry{
			LastWelcomeAt: rec.LastWelcomeAt,
			History:       history,
			State:         rec.State,
			UpdatedAt:     rec.UpdatedAt,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace record file %s: %w", r.path, err)
	}
	return nil
}
