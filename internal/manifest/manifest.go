// Package manifest persists and retrieves SyncManifests (spec section
// 4.4): the per-file record of chunk layout, vector clock, and optional
// wrapped file key. It also tolerates the legacy textual v1 format for
// backward compatibility, normalizing it into the v2 in-memory shape on
// read.
package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/tcfs-dev/tcfs/internal/clock"
	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// CurrentVersion is the on-wire manifest version produced by Serialize.
const CurrentVersion = 2

// ChunkDescriptor is one entry in a manifest's ordered chunk list.
// Compressed and Encrypted record the codec Frame that blob was
// stored under, since a chunk's plaintext hash (its CAS identity)
// must not vary with how it happens to be encoded (spec section 4.2).
type ChunkDescriptor struct {
	Index      int    `json:"index"`
	Hash       string `json:"hash"` // lowercase hex BLAKE3
	Length     int    `json:"length"`
	Compressed bool   `json:"compressed,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
}

// Manifest describes one logical file (spec section 3).
type Manifest struct {
	Version           int               `json:"version"`
	FileHash          string            `json:"file_hash"` // lowercase hex BLAKE3
	FileSize          int64             `json:"file_size"`
	ChunkCount        int               `json:"chunk_count"`
	Chunks            []ChunkDescriptor `json:"chunks"`
	VectorClock       clock.Clock       `json:"vector_clock"`
	EncryptedFileKey  []byte            `json:"encrypted_file_key,omitempty"`
	MimeType          string            `json:"mime_type,omitempty"`
	ModifiedAt        time.Time         `json:"modified_at"`
}

// New builds a v2 manifest from an ordered, contiguous chunk list.
// Callers are responsible for ticking vc before calling Serialize.
func New(fileHash []byte, chunks []ChunkDescriptor, vc clock.Clock, mimeType string) *Manifest {
	var size int64
	for _, c := range chunks {
		size += int64(c.Length)
	}
	return &Manifest{
		Version:     CurrentVersion,
		FileHash:    hex.EncodeToString(fileHash),
		FileSize:    size,
		ChunkCount:  len(chunks),
		Chunks:      chunks,
		VectorClock: vc,
		MimeType:    mimeType,
		ModifiedAt:  time.Now().UTC(),
	}
}

// Validate checks the invariants from spec section 3: contiguous,
// non-overlapping chunks in index order, file_size == sum(lengths).
// It does not verify file_hash against chunk bytes — that requires the
// plaintext and is the caller's job after reassembly.
func (m *Manifest) Validate() error {
	if m.ChunkCount != len(m.Chunks) {
		return tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("chunk_count %d does not match %d chunk descriptors", m.ChunkCount, len(m.Chunks)))
	}
	var total int64
	for i, c := range m.Chunks {
		if c.Index != i {
			return tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("chunk at position %d has index %d, want contiguous order", i, c.Index))
		}
		if c.Length <= 0 {
			return tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("chunk %d has non-positive length %d", i, c.Length))
		}
		if _, err := hex.DecodeString(c.Hash); err != nil {
			return tcfserrors.Wrap(tcfserrors.KindIntegrity, fmt.Sprintf("chunk %d hash is not valid hex", i), err)
		}
		total += int64(c.Length)
	}
	if total != m.FileSize {
		return tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("file_size %d does not equal sum of chunk lengths %d", m.FileSize, total))
	}
	if _, err := hex.DecodeString(m.FileHash); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIntegrity, "file_hash is not valid hex", err)
	}
	return nil
}

// VerifyFileHash recomputes BLAKE3 over the reassembled plaintext and
// compares it against m.FileHash, per spec section 4.3's "manifest's
// own file_hash is also verified... after pull".
func (m *Manifest) VerifyFileHash(plaintext []byte) error {
	sum := blake3.Sum256(plaintext)
	got := hex.EncodeToString(sum[:])
	if got != m.FileHash {
		return tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("reassembled file hash %s does not match manifest file_hash %s", got, m.FileHash))
	}
	return nil
}

// Serialize encodes m deterministically: fixed key order, chunks in
// index order, base-10 integers, lowercase hex hashes (spec section
// 4.4). json.Marshal of a struct already emits fields in declaration
// order, which is why the field order above mirrors the spec's
// enumeration.
func Serialize(m *Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "serialize manifest", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Parse detects v1 vs v2 encoding and returns a normalized v2
// Manifest. v1 manifests are parsed with an empty vector clock and no
// encrypted file key (spec section 4.4).
func Parse(raw []byte) (*Manifest, error) {
	if looksLikeV1(raw) {
		m, err := parseV1(raw)
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindIo, "parse v1 manifest", err)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "parse v2 manifest", err)
	}
	if m.VectorClock == nil {
		m.VectorClock = clock.New()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// looksLikeV1 distinguishes the legacy newline-delimited key:value
// header from v2 JSON by checking for a leading '{'.
func looksLikeV1(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || trimmed[0] != '{'
}

// parseV1 reads the legacy textual header: version, chunks,
// compressed, fetched, oid, origin, size — one "key: value" pair per
// line. Unrecognized keys are ignored for forward tolerance.
func parseV1(raw []byte) (*Manifest, error) {
	lines := strings.Split(string(raw), "\n")
	fields := make(map[string]string, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		fields[key] = val
	}

	oid, ok := fields["oid"]
	if !ok {
		return nil, fmt.Errorf("v1 manifest missing required field %q", "oid")
	}
	sizeStr, ok := fields["size"]
	if !ok {
		return nil, fmt.Errorf("v1 manifest missing required field %q", "size")
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("v1 manifest has non-integer size %q: %w", sizeStr, err)
	}

	m := &Manifest{
		Version:     CurrentVersion,
		FileHash:    strings.ToLower(oid),
		FileSize:    size,
		VectorClock: clock.New(),
		ModifiedAt:  time.Now().UTC(),
	}

	if chunksStr, ok := fields["chunks"]; ok {
		count, err := strconv.Atoi(chunksStr)
		if err != nil {
			return nil, fmt.Errorf("v1 manifest has non-integer chunks %q: %w", chunksStr, err)
		}
		// v1 carried no per-chunk hash list, only a count; a single
		// synthetic descriptor spanning the whole file lets Validate's
		// size-sum invariant hold without inventing chunk boundaries
		// we have no data for.
		if count > 0 {
			m.ChunkCount = 1
			m.Chunks = []ChunkDescriptor{{Index: 0, Hash: m.FileHash, Length: int(size)}}
		}
	}

	return m, nil
}

// Normalize re-serializes and re-parses m, which is stable under
// repeated application (spec section 8, invariant 3): normalize is
// idempotent because Serialize always emits the canonical v2 shape.
func Normalize(m *Manifest) (*Manifest, error) {
	raw, err := Serialize(m)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Key returns the CAS key under which a manifest for the given
// plaintext file hash is stored (spec section 4.3).
func Key(prefix string, fileHash []byte) string {
	return fmt.Sprintf("%s/manifests/%s", prefix, hex.EncodeToString(fileHash))
}
