package cas

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/zeebo/blake3"
)

func TestSweepDeletesOrphanChunksOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	kept := []byte("referenced by a manifest")
	orphan := []byte("never referenced by anything")
	keptHash := blake3.Sum256(kept)
	orphanHash := blake3.Sum256(orphan)

	if err := store.Put(ctx, ChunkKey("fleet1", keptHash), kept); err != nil {
		t.Fatalf("put kept chunk: %v", err)
	}
	if err := store.Put(ctx, ChunkKey("fleet1", orphanHash), orphan); err != nil {
		t.Fatalf("put orphan chunk: %v", err)
	}

	manifestJSON := []byte(`{"version":2,"file_hash":"ab","file_size":25,"chunk_count":1,"chunks":[{"index":0,"hash":"` +
		hex.EncodeToString(keptHash[:]) + `","length":25}],"vector_clock":{},"modified_at":"2026-01-01T00:00:00Z"}`)
	if err := store.Put(ctx, ManifestKey("fleet1", []byte{0xab}), manifestJSON); err != nil {
		t.Fatalf("put manifest: %v", err)
	}

	result, err := Sweep(ctx, store, "fleet1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.ChunksDeleted != 1 {
		t.Fatalf("ChunksDeleted = %d, want 1", result.ChunksDeleted)
	}

	if _, err := store.Get(ctx, ChunkKey("fleet1", orphanHash)); err == nil {
		t.Fatal("expected orphan chunk to be deleted")
	}
	if _, err := store.Get(ctx, ChunkKey("fleet1", keptHash)); err != nil {
		t.Fatalf("expected kept chunk to survive sweep: %v", err)
	}
}

