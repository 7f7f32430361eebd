package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tcfs-dev/tcfs/internal/cas"
	"github.com/tcfs-dev/tcfs/internal/codec"
	"github.com/tcfs-dev/tcfs/internal/fleet/eventstream"
	"github.com/tcfs-dev/tcfs/internal/statecache"
)

func newTestCoordinator(t *testing.T, deviceID string, store cas.Store, events eventstream.EventStream) *Coordinator {
	t.Helper()
	cd, err := codec.New(true)
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	t.Cleanup(cd.Close)

	cache, err := statecache.OpenJSONStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return &Coordinator{
		DeviceID:   deviceID,
		Prefix:     "fleet1",
		Store:      store,
		Codec:      cd,
		StateCache: cache,
		Events:     events,
		Resolver:   &Resolver{Mode: ConflictModeAuto, LocalDeviceID: deviceID},
	}
}

func TestCoordinatorPushThenPullRoundTrip(t *testing.T) {
	store, err := cas.OpenBoltStore(filepath.Join(t.TempDir(), "cas.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	content := []byte("the quick brown fox jumps over the lazy dog, repeated many times to exceed one chunk boundary. " +
		"the quick brown fox jumps over the lazy dog, repeated many times to exceed one chunk boundary.")

	srcPath := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	pusher := newTestCoordinator(t, "device-a", store, eventstream.NewMemStream(4))
	m, err := pusher.Push(ctx, srcPath, "/notes.txt", nil, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if m.VectorClock.Get("device-a") != 1 {
		t.Fatalf("vector clock after first push = %d, want 1", m.VectorClock.Get("device-a"))
	}

	puller := newTestCoordinator(t, "device-b", store, eventstream.NewMemStream(4))
	destPath := filepath.Join(t.TempDir(), "notes.txt")
	if err := puller.Pull(ctx, destPath, "/notes.txt", m.FileHash, nil); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read pulled file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("pulled content mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}
}

func TestCoordinatorPushDedupsIdenticalChunks(t *testing.T) {
	store, err := cas.OpenBoltStore(filepath.Join(t.TempDir(), "cas.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}

	srcA := filepath.Join(t.TempDir(), "a.bin")
	srcB := filepath.Join(t.TempDir(), "b.bin")
	if err := os.WriteFile(srcA, content, 0o644); err != nil {
		t.Fatalf("write a.bin: %v", err)
	}
	if err := os.WriteFile(srcB, content, 0o644); err != nil {
		t.Fatalf("write b.bin: %v", err)
	}

	coord := newTestCoordinator(t, "device-a", store, eventstream.NewMemStream(4))
	mA, err := coord.Push(ctx, srcA, "/a.bin", nil, nil)
	if err != nil {
		t.Fatalf("push a: %v", err)
	}
	keysAfterA, err := store.List(ctx, "fleet1/chunks/")
	if err != nil {
		t.Fatalf("List after push a: %v", err)
	}
	mB, err := coord.Push(ctx, srcB, "/b.bin", nil, nil)
	if err != nil {
		t.Fatalf("push b: %v", err)
	}
	if mA.FileHash != mB.FileHash {
		t.Fatalf("identical content produced different file hashes: %s vs %s", mA.FileHash, mB.FileHash)
	}
	keysAfterB, err := store.List(ctx, "fleet1/chunks/")
	if err != nil {
		t.Fatalf("List after push b: %v", err)
	}
	if len(keysAfterB) != len(keysAfterA) {
		t.Fatalf("second push of identical content added %d chunk blobs, want 0", len(keysAfterB)-len(keysAfterA))
	}
}

func TestCoordinatorConcurrentEditsGoToConflict(t *testing.T) {
	store, err := cas.OpenBoltStore(filepath.Join(t.TempDir(), "cas.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	base := []byte("shared starting point for both devices to diverge from")
	baseA := filepath.Join(t.TempDir(), "shared.txt")
	baseB := filepath.Join(t.TempDir(), "shared.txt")
	if err := os.WriteFile(baseA, base, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(baseB, base, 0o644); err != nil {
		t.Fatal(err)
	}

	devA := newTestCoordinator(t, "device-a", store, eventstream.NewMemStream(4))
	devB := newTestCoordinator(t, "device-b", store, eventstream.NewMemStream(4))

	mA, err := devA.Push(ctx, baseA, "/shared.txt", nil, nil)
	if err != nil {
		t.Fatalf("push from device-a: %v", err)
	}

	// device-b diverges without having seen device-a's push, producing
	// concurrent vector clocks.
	diverged := append(append([]byte{}, base...), []byte(" plus a local edit on b")...)
	if err := os.WriteFile(baseB, diverged, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := devB.Push(ctx, baseB, "/shared.txt", nil, nil); err != nil {
		t.Fatalf("push from device-b: %v", err)
	}

	// device-b now pulls device-a's manifest; the two vector clocks are
	// concurrent since neither observed the other's tick.
	if err := devB.Pull(ctx, baseB, "/shared.txt", mA.FileHash, nil); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	entry, ok, err := devB.StateCache.Get(ctx, baseB)
	if err != nil {
		t.Fatalf("StateCache.Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a state cache entry for baseB")
	}
	if entry.Status != statecache.StatusSynced && entry.Status != statecache.StatusConflict {
		t.Fatalf("unexpected status after concurrent pull: %v", entry.Status)
	}
}
