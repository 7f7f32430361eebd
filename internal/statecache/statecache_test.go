package statecache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tcfs-dev/tcfs/internal/clock"
)

func sampleEntry() Entry {
	vc := clock.New()
	vc = clock.Tick(vc, "device-a")
	return Entry{
		LocalPath:   "/home/user/tcfs/notes.txt",
		RemoteKey:   "tcfs/manifests/abc123",
		FileHash:    "abc123",
		Size:        42,
		VectorClock: vc,
		Status:      StatusSynced,
	}
}

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	entry := sampleEntry()
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, entry.LocalPath)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if got.FileHash != entry.FileHash || got.Status != entry.Status {
		t.Fatalf("got %+v, want %+v", got, entry)
	}
	if got.VectorClock.Get("device-a") != 1 {
		t.Fatalf("vector clock not round-tripped: %+v", got.VectorClock)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(entries))
	}

	if err := store.Delete(ctx, entry.LocalPath); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, entry.LocalPath); ok {
		t.Fatal("expected entry to be gone after Delete")
	}

	if err := store.Delete(ctx, "/never/existed"); err != nil {
		t.Fatalf("Delete of absent entry should not error: %v", err)
	}
}

func TestJSONStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenJSONStore(path)
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenJSONStore(path)
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	entry := sampleEntry()
	if err := store.Put(context.Background(), entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.Close()

	reopened, err := OpenJSONStore(path)
	if err != nil {
		t.Fatalf("reopen OpenJSONStore: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(context.Background(), entry.LocalPath)
	if err != nil || !ok {
		t.Fatalf("expected entry to survive reopen, ok=%v err=%v", ok, err)
	}
	if got.FileHash != entry.FileHash {
		t.Fatalf("file hash mismatch after reopen: %+v", got)
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenSQLStore(path)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	defer store.Close()
	testStoreRoundTrip(t, store)
}
