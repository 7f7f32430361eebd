// Package statecache persists the local device's view of every synced
// path: the remote key it maps to, its last-known content hash and
// vector clock, and its sync status. It lets a restart resume without
// re-hashing every file and without losing track of the local vector
// clock (spec section 3: "State cache").
package statecache

import (
	"context"

	"github.com/tcfs-dev/tcfs/internal/clock"
)

// SyncStatus mirrors the per-file state machine (spec section 4.6.5).
type SyncStatus int

const (
	StatusUnknown SyncStatus = iota
	StatusSynced
	StatusModifiedLocal
	StatusPendingUpload
	StatusPendingDownload
	StatusConflict
)

func (s SyncStatus) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusModifiedLocal:
		return "modified_local"
	case StatusPendingUpload:
		return "pending_upload"
	case StatusPendingDownload:
		return "pending_download"
	case StatusConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Entry is the cached record for one local path.
type Entry struct {
	LocalPath   string     `json:"local_path"`
	RemoteKey   string     `json:"remote_key"`
	FileHash    string     `json:"file_hash"`
	Size        int64      `json:"size"`
	VectorClock clock.Clock `json:"vector_clock"`
	Status      SyncStatus `json:"status"`
}

// Store is the pluggable state-cache backend (spec section 6:
// `sync.state_backend` is `json` or `embedded-kv`). Implementations
// must be safe for concurrent use by a single writer and any number of
// readers (spec section 5: "single-writer discipline").
type Store interface {
	// Get returns the entry for localPath, or ok=false if absent.
	Get(ctx context.Context, localPath string) (Entry, bool, error)
	// Put inserts or replaces the entry for its LocalPath.
	Put(ctx context.Context, entry Entry) error
	// Delete removes any entry for localPath. A missing entry is not
	// an error.
	Delete(ctx context.Context, localPath string) error
	// List returns every cached entry, in unspecified order.
	List(ctx context.Context) ([]Entry, error)
	// Close releases any underlying resources (file handles, DB
	// connections).
	Close() error
}
