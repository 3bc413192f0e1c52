package contacts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

// Store keeps every contact record in memory and writes the full set through
// the repository on each Save.
type Store struct {
	mu      sync.RWMutex
	records map[string]*repository.ContactRecord
	repo    repository.RecordRepository
	locks   keyedMutex
	now     func() time.Time
}

func NewStore(repo repository.RecordRepository) *Store {
	return &Store{
		records: make(map[string]*repository.ContactRecord),
		repo:    repo,
		locks:   keyedMutex{locks: make(map[string]*keyedLock)},
		now:     time.Now,
	}
}

// SetClock overrides the time source used for UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load replaces the in-memory set with what the repository holds.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load contact records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*repository.ContactRecord, len(records))
	for i := range records {
		rec := records[i].Clone()
		if rec.ContactID == "" {
			return fmt.Errorf("failed to load contact records: record %d has no contact id", i)
		}
		s.records[rec.ContactID] = &rec
	}
	return nil
}

// GetOrCreate returns a copy of the contact's record, creating the default
// record in memory on first sight.
func (s *Store) GetOrCreate(contactID string) repository.ContactRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[contactID]; ok {
		return rec.Clone()
	}
	rec := repository.NewContactRecord(contactID)
	s.records[contactID] = &rec
	return rec.Clone()
}

func (s *Store) Get(contactID string) (repository.ContactRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[contactID]
	if !ok {
		return repository.ContactRecord{}, false
	}
	return rec.Clone(), true
}

// Put replaces the in-memory record without persisting.
func (s *Store) Put(rec repository.ContactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec = rec.Clone()
	rec.UpdatedAt = s.now().Unix()
	s.records[rec.ContactID] = &rec
}

// Save writes the whole record set to the repository.
func (s *Store) Save(ctx context.Context) error {
	snapshot := s.List()
	if err := s.repo.SaveAll(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save contact records: %w", err)
	}
	return nil
}

// Update stores rec and persists the full set.
func (s *Store) Update(ctx context.Context, rec repository.ContactRecord) error {
	s.Put(rec)
	return s.Save(ctx)
}

// List returns copies of all records ordered by contact id.
func (s *Store) List() []repository.ContactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]repository.ContactRecord, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ContactID < result[j].ContactID
	})
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Lock serializes handling for one contact. The returned func releases it.
func (s *Store) Lock(contactID string) func() {
	return s.locks.lock(contactID)
}
