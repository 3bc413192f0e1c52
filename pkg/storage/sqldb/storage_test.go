package sqldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

func openSQLite(t *testing.T, path, namespace string) *SQLStorage {
	t.Helper()
	s, err := NewSQLiteStorage(Config{DatabaseURL: path, Namespace: namespace})
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, filepath.Join(t.TempDir(), "records.db"), "menu")

	empty, err := s.Records().LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty store, got %v", empty)
	}

	rec := repository.NewContactRecord("whatsapp:1@s.whatsapp.net")
	rec.LastWelcomeAt = 1700000000
	rec.State = repository.StateTopicB
	rec.PushTurn(repository.Turn{Timestamp: 1700000001, Text: "2"}, 3)

	if err := s.Records().SaveAll(ctx, []repository.ContactRecord{rec}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}

	// Second save updates in place.
	rec.State = repository.StateNone
	rec.PushTurn(repository.Turn{Timestamp: 1700000002, Text: "exit"}, 3)
	if err := s.Records().SaveAll(ctx, []repository.ContactRecord{rec}); err != nil {
		t.Fatalf("SaveAll() update error = %v", err)
	}

	loaded, err := s.Records().LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d records, want 1", len(loaded))
	}
	got := loaded[0]
	if got.State != repository.StateNone || got.LastWelcomeAt != 1700000000 {
		t.Fatalf("record mismatch: %+v", got)
	}
	if len(got.History) != 2 || got.History[1].Text != "exit" {
		t.Fatalf("history mismatch: %+v", got.History)
	}
}

func TestSQLiteNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	menu := openSQLite(t, path, "menu")
	if err := menu.Records().SaveAll(ctx, []repository.ContactRecord{repository.NewContactRecord("whatsapp:1")}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	menu.Close()

	chat := openSQLite(t, path, "chat")
	records, err := chat.Records().LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("chat namespace sees menu records: %v", records)
	}
}

func TestRebind(t *testing.T) {
	pg := &recordRepository{dialect: Postgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &recordRepository{dialect: SQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("rebind = %q", got)
	}
}

func TestNewPostgresStorageRequiresURL(t *testing.T) {
	if _, err := NewPostgresStorage(Config{}); err == nil {
		t.Fatalf("expected error without database URL")
	}
}

func TestSQLiteSaveAllDropsMissingContacts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	menu := openSQLite(t, path, "menu")
	chat := openSQLite(t, path, "chat")

	a := repository.NewContactRecord("whatsapp:1")
	b := repository.NewContactRecord("whatsapp:2")
	if err := menu.Records().SaveAll(ctx, []repository.ContactRecord{a, b}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if err := chat.Records().SaveAll(ctx, []repository.ContactRecord{b}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if err := menu.Records().SaveAll(ctx, []repository.ContactRecord{a}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}

	loaded, err := menu.Records().LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].ContactID != "whatsapp:1" {
		t.Fatalf("menu records = %+v, want only whatsapp:1", loaded)
	}
	other, err := chat.Records().LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(other) != 1 || other[0].ContactID != "whatsapp:2" {
		t.Fatalf("chat records = %+v", other)
	}
}
