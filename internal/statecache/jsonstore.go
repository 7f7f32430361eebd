package statecache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// jsonstore is the JSON-on-disk backend for small fleets (spec section
// 6: `sync.state_backend = json`), grounded on the teacher's
// marshal-then-WriteFile idiom for keystore entries.
type jsonstore struct {
	path    string
	mu      sync.Mutex
	entries map[string]Entry // keyed by LocalPath
}

// OpenJSONStore loads (or creates) a JSON state-cache file at path.
func OpenJSONStore(path string) (Store, error) {
	js := &jsonstore{path: path, entries: make(map[string]Entry)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return js, nil
		}
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "read state cache file", err)
	}
	if len(raw) == 0 {
		return js, nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "parse state cache file", err)
	}
	for _, e := range entries {
		js.entries[e.LocalPath] = e
	}
	return js, nil
}

func (js *jsonstore) Get(ctx context.Context, localPath string) (Entry, bool, error) {
	js.mu.Lock()
	defer js.mu.Unlock()
	e, ok := js.entries[localPath]
	return e, ok, nil
}

func (js *jsonstore) Put(ctx context.Context, entry Entry) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.entries[entry.LocalPath] = entry
	return js.flushLocked()
}

func (js *jsonstore) Delete(ctx context.Context, localPath string) error {
	js.mu.Lock()
	defer js.mu.Unlock()
	if _, ok := js.entries[localPath]; !ok {
		return nil
	}
	delete(js.entries, localPath)
	return js.flushLocked()
}

func (js *jsonstore) List(ctx context.Context) ([]Entry, error) {
	js.mu.Lock()
	defer js.mu.Unlock()
	out := make([]Entry, 0, len(js.entries))
	for _, e := range js.entries {
		out = append(out, e)
	}
	return out, nil
}

func (js *jsonstore) Close() error { return nil }

// flushLocked writes the full entry set to a temp sibling file, syncs
// it, and renames it into place, matching the atomic-replace discipline
// used elsewhere for local file writes (spec section 4.6.3).
func (js *jsonstore) flushLocked() error {
	entries := make([]Entry, 0, len(js.entries))
	for _, e := range js.entries {
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "marshal state cache", err)
	}

	dir := filepath.Dir(js.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "create state cache directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".statecache-*.tmp")
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "create temp state cache file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "write temp state cache file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "sync temp state cache file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "close temp state cache file", err)
	}
	if err := os.Rename(tmpPath, js.path); err != nil {
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "rename temp state cache file", err)
	}
	return nil
}
