package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaybot/relaybot/pkg/storage/repository"
)

type staticSource []repository.ContactRecord

func (s staticSource) List() []repository.ContactRecord { return s }

func TestNewBackupSchedulerValidates(t *testing.T) {
	if _, err := NewBackupScheduler("not a cron", t.TempDir(), "menu", 0, staticSource{}); err == nil {
		t.Fatalf("expected invalid expression error")
	}
	if _, err := NewBackupScheduler("@hourly", "", "menu", 0, staticSource{}); err == nil {
		t.Fatalf("expected missing dir error")
	}
}

func TestTickWritesSnapshotWhenDue(t *testing.T) {
	dir := t.TempDir()
	rec := repository.NewContactRecord("1@s.whatsapp.net")
	rec.State = repository.StateTopicA
	b, err := NewBackupScheduler("0 * * * *", dir, "menu", 0, staticSource{rec})
	if err != nil {
		t.Fatalf("NewBackupScheduler() error = %v", err)
	}

	if b.Tick(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("ran off schedule")
	}
	at := time.Date(2026, 3, 1, 11, 0, 20, 0, time.UTC)
	if !b.Tick(at) {
		t.Fatalf("did not run on the hour")
	}
	if b.Tick(at.Add(10 * time.Second)) {
		t.Fatalf("ran twice in the same minute")
	}

	snap, err := ReadSnapshot(filepath.Join(dir, "records-20260301-110020.json"))
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if snap.Namespace != "menu" || len(snap.Records) != 1 || snap.Records[0].State != repository.StateTopicA {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestBackupPrunesOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := NewBackupScheduler("@daily", dir, "chat", 2, staticSource{})
	if err != nil {
		t.Fatalf("NewBackupScheduler() error = %v", err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := b.Backup(base.Add(time.Duration(i) * time.Hour)); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"notes.txt", "records-20260301-020000.json", "records-20260301-030000.json"}
	if len(names) != len(want) {
		t.Fatalf("files = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("files = %v, want %v", names, want)
		}
	}
}
