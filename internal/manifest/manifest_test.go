package manifest

import (
	"encoding/hex"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/tcfs-dev/tcfs/internal/clock"
	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

func sampleManifest(t *testing.T) *Manifest {
	t.Helper()
	plaintext := []byte("hello, tcfs")
	sum := blake3.Sum256(plaintext)
	chunks := []ChunkDescriptor{{Index: 0, Hash: hex.EncodeToString(sum[:]), Length: len(plaintext)}}
	vc := clock.Tick(clock.New(), "device-a")
	return New(sum[:], chunks, vc, "text/plain")
}

func TestSerializeParseRoundTrip(t *testing.T) {
	m := sampleManifest(t)
	raw, err := Serialize(m)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.FileHash != m.FileHash {
		t.Fatalf("FileHash = %q, want %q", got.FileHash, m.FileHash)
	}
	if got.FileSize != m.FileSize {
		t.Fatalf("FileSize = %d, want %d", got.FileSize, m.FileSize)
	}
	if got.ChunkCount != m.ChunkCount || len(got.Chunks) != len(m.Chunks) {
		t.Fatalf("chunk count mismatch: got %+v want %+v", got.Chunks, m.Chunks)
	}
	if clock.Compare(got.VectorClock, m.VectorClock) != clock.Equal {
		t.Fatalf("vector clock mismatch after round trip: got %v want %v", got.VectorClock, m.VectorClock)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	m := sampleManifest(t)
	once, err := Normalize(m)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	twice, err := Normalize(once)
	if err != nil {
		t.Fatalf("Normalize(Normalize): %v", err)
	}

	rawOnce, err := Serialize(once)
	if err != nil {
		t.Fatalf("Serialize(once): %v", err)
	}
	rawTwice, err := Serialize(twice)
	if err != nil {
		t.Fatalf("Serialize(twice): %v", err)
	}
	if string(rawOnce) != string(rawTwice) {
		t.Fatalf("normalize not idempotent:\n%s\nvs\n%s", rawOnce, rawTwice)
	}
}

func TestValidateRejectsSizeMismatch(t *testing.T) {
	m := sampleManifest(t)
	m.FileSize = m.FileSize + 1
	if err := m.Validate(); err == nil {
		t.Fatal("expected Validate to reject file_size mismatch")
	} else if tcfserrors.KindOf(err) != tcfserrors.KindIntegrity {
		t.Fatalf("error kind = %v, want Integrity", tcfserrors.KindOf(err))
	}
}

func TestValidateRejectsOutOfOrderChunks(t *testing.T) {
	m := sampleManifest(t)
	m.Chunks = append(m.Chunks, ChunkDescriptor{Index: 5, Hash: m.Chunks[0].Hash, Length: 1})
	m.ChunkCount = len(m.Chunks)
	m.FileSize += 1
	if err := m.Validate(); err == nil {
		t.Fatal("expected Validate to reject non-contiguous chunk index")
	}
}

func TestVerifyFileHash(t *testing.T) {
	plaintext := []byte("hello, tcfs")
	sum := blake3.Sum256(plaintext)
	m := &Manifest{FileHash: hex.EncodeToString(sum[:])}

	if err := m.VerifyFileHash(plaintext); err != nil {
		t.Fatalf("VerifyFileHash: %v", err)
	}
	if err := m.VerifyFileHash([]byte("tampered")); err == nil {
		t.Fatal("expected VerifyFileHash to fail on mismatched plaintext")
	} else if tcfserrors.KindOf(err) != tcfserrors.KindIntegrity {
		t.Fatalf("error kind = %v, want Integrity", tcfserrors.KindOf(err))
	}
}

func TestParseLegacyV1Manifest(t *testing.T) {
	v1 := "version: 1\n" +
		"chunks: 1\n" +
		"compressed: true\n" +
		"fetched: false\n" +
		"oid: AABBCCDD\n" +
		"origin: remote\n" +
		"size: 42\n"

	m, err := Parse([]byte(v1))
	if err != nil {
		t.Fatalf("Parse(v1): %v", err)
	}
	if m.Version != CurrentVersion {
		t.Fatalf("Version = %d, want %d after v1 normalization", m.Version, CurrentVersion)
	}
	if m.FileHash != "aabbccdd" {
		t.Fatalf("FileHash = %q, want lowercased oid", m.FileHash)
	}
	if m.FileSize != 42 {
		t.Fatalf("FileSize = %d, want 42", m.FileSize)
	}
	if len(m.VectorClock) != 0 {
		t.Fatalf("expected empty vector clock for v1 manifest, got %v", m.VectorClock)
	}
	if len(m.EncryptedFileKey) != 0 {
		t.Fatal("expected no encrypted file key for v1 manifest")
	}
}

func TestKey(t *testing.T) {
	fh, _ := hex.DecodeString("ab")
	got := Key("fleet1", fh)
	want := "fleet1/manifests/ab"
	if got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}
