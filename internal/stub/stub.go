// Package stub implements the local placeholder format for
// not-yet-hydrated files and directories (spec section 3: "Stub").
// A stub is a small JSON document that replaces a file's content on
// disk until an adapter hydrates it. This package only builds, encodes
// and parses stubs; it does not write them to disk or hydrate them.
package stub

import (
	"encoding/json"
	"strings"
	"time"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// CurrentVersion is the only stub format version this package writes.
const CurrentVersion = 1

// FileExt is the extension convention for a file stub; DirExt is the
// extension convention for a directory stub (spec section 6).
const (
	FileExt = ".tc"
	DirExt  = ".tcf"
)

// FileStub is a placeholder for one not-yet-hydrated file, carrying
// enough metadata to locate its manifest.
type FileStub struct {
	Version      int       `json:"version"`
	FileHash     string    `json:"file_hash"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ModifiedAt   time.Time `json:"modified_at"`
	ChunkCount   int       `json:"chunk_count"`
	ManifestKey  string    `json:"manifest_key"`
	RemotePrefix string    `json:"remote_prefix"`
	MimeType     string    `json:"mime_type,omitempty"`
}

// DirEntry is one child of a directory stub.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// DirStub is a placeholder for a not-yet-hydrated directory, listing
// its immediate children so a virtual-filesystem adapter can answer
// `list(path)` without hydrating anything.
type DirStub struct {
	Version      int        `json:"version"`
	Name         string     `json:"name"`
	RemotePrefix string     `json:"remote_prefix"`
	Entries      []DirEntry `json:"entries"`
}

// NewFileStub builds a FileStub with the current format version.
func NewFileStub(name string, size int64, fileHash string, chunkCount int, manifestKey, remotePrefix, mimeType string) *FileStub {
	return &FileStub{
		Version:      CurrentVersion,
		FileHash:     fileHash,
		Name:         name,
		Size:         size,
		ModifiedAt:   time.Now().UTC(),
		ChunkCount:   chunkCount,
		ManifestKey:  manifestKey,
		RemotePrefix: remotePrefix,
		MimeType:     mimeType,
	}
}

// NewDirStub builds a DirStub with the current format version.
func NewDirStub(name, remotePrefix string, entries []DirEntry) *DirStub {
	return &DirStub{
		Version:      CurrentVersion,
		Name:         name,
		RemotePrefix: remotePrefix,
		Entries:      entries,
	}
}

// SerializeFile marshals a FileStub to its on-disk JSON form.
func SerializeFile(s *FileStub) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "marshal file stub", err)
	}
	return data, nil
}

// ParseFile unmarshals a FileStub from its on-disk JSON form.
func ParseFile(raw []byte) (*FileStub, error) {
	var s FileStub
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "parse file stub", err)
	}
	if s.Version == 0 || s.FileHash == "" {
		return nil, tcfserrors.New(tcfserrors.KindIo, "file stub missing version or file_hash")
	}
	return &s, nil
}

// SerializeDir marshals a DirStub to its on-disk JSON form.
func SerializeDir(s *DirStub) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "marshal directory stub", err)
	}
	return data, nil
}

// ParseDir unmarshals a DirStub from its on-disk JSON form.
func ParseDir(raw []byte) (*DirStub, error) {
	var s DirStub
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "parse directory stub", err)
	}
	if s.Version == 0 {
		return nil, tcfserrors.New(tcfserrors.KindIo, "directory stub missing version")
	}
	return &s, nil
}

// IsStubPath reports whether name carries a recognized stub extension.
func IsStubPath(name string) bool {
	return strings.HasSuffix(name, FileExt) || strings.HasSuffix(name, DirExt)
}

// IsFileStubPath reports whether name is a file-stub path.
func IsFileStubPath(name string) bool {
	return strings.HasSuffix(name, FileExt)
}

// IsDirStubPath reports whether name is a directory-stub path.
func IsDirStubPath(name string) bool {
	return strings.HasSuffix(name, DirExt)
}

// LooksLikeStub inspects raw content for the version header a stub
// parser recognizes, independent of the file's extension (spec
// section 6: "detected by extension and by a version header").
func LooksLikeStub(raw []byte) bool {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Version > 0
}

// StripExt returns name with any recognized stub extension removed,
// recovering the original file or directory name.
func StripExt(name string) string {
	if strings.HasSuffix(name, FileExt) {
		return strings.TrimSuffix(name, FileExt)
	}
	if strings.HasSuffix(name, DirExt) {
		return strings.TrimSuffix(name, DirExt)
	}
	return name
}
