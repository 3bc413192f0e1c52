package contacts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

type memRepo struct {
	mu      sync.Mutex
	records []repository.ContactRecord
	saves   int
	loadErr error
	saveErr error
}

func (m *memRepo) LoadAll(ctx context.Context) ([]repository.ContactRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]repository.ContactRecord(nil), m.records...), nil
}

func (m *memRepo) SaveAll(ctx context.Context, records []repository.ContactRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records = append([]repository.ContactRecord(nil), records...)
	return nil
}

func TestGetOrCreateDefaults(t *testing.T) {
	store := NewStore(&memRepo{})
	rec := store.GetOrCreate("whatsapp:1")
	if rec.ContactID != "whatsapp:1" || rec.LastWelcomeAt != 0 || rec.State != repository.StateNone {
		t.Fatalf("unexpected default record %+v", rec)
	}
	if rec.History == nil || len(rec.History) != 0 {
		t.Fatalf("history = %v, want empty non-nil", rec.History)
	}
	if store.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", store.Count())
	}
}

func TestGetOrCreateReturnsCopy(t *testing.T) {
	store := NewStore(&memRepo{})
	rec := store.GetOrCreate("c")
	rec.State = repository.StateTopicA
	rec.PushTurn(repository.Turn{Text: "1"}, 3)

	again := store.GetOrCreate("c")
	if again.State != repository.StateNone || len(again.History) != 0 {
		t.Fatalf("mutating a returned record leaked into the store: %+v", again)
	}
}

func TestUpdatePersistsFullSet(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	store := NewStore(repo)
	store.SetClock(func() time.Time { return time.Unix(1700000000, 0) })

	a := store.GetOrCreate("a")
	store.GetOrCreate("b")
	a.State = repository.StateTopicC
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if repo.saves != 1 {
		t.Fatalf("saves = %d, want 1", repo.saves)
	}
	if len(repo.records) != 2 {
		t.Fatalf("persisted %d records, want full set of 2", len(repo.records))
	}
	got, _ := store.Get("a")
	if got.State != repository.StateTopicC || got.UpdatedAt != 1700000000 {
		t.Fatalf("record = %+v", got)
	}
}

func TestLoadRestoresRecords(t *testing.T) {
	rec := repository.NewContactRecord("whatsapp:1")
	rec.State = repository.StateTopicA
	repo := &memRepo{records: []repository.ContactRecord{rec}}

	store := NewStore(repo)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, ok := store.Get("whatsapp:1")
	if !ok || got.State != repository.StateTopicA {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
}

func TestLoadPropagatesErrors(t *testing.T) {
	store := NewStore(&memRepo{loadErr: errors.New("bad json")})
	if err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected Load() error")
	}
}

func TestSaveWrapsErrors(t *testing.T) {
	boom := errors.New("disk full")
	store := NewStore(&memRepo{saveErr: boom})
	store.GetOrCreate("a")
	err := store.Save(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Save() error = %v, want wrapping %v", err, boom)
	}
}

func TestLockSerializesSameContact(t *testing.T) {
	store := NewStore(&memRepo{})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := store.Lock("same")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
	if n := store.locks.size(); n != 0 {
		t.Fatalf("lock map not cleaned up: %d entries", n)
	}
}

func TestLockDifferentContactsDoNotBlock(t *testing.T) {
	store := NewStore(&memRepo{})
	unlockA := store.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := store.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked behind a")
	}
}
