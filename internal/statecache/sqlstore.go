package statecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/tcfs-dev/tcfs/internal/clock"
	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// sqlstore is the embedded-kv backend for large fleets (spec section
// 6: `sync.state_backend = embedded-kv`), grounded directly on the
// teacher's `PersistentStore` schema-and-query shape.
type sqlstore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLStore opens (or creates) a SQLite-backed state cache at path.
func OpenSQLStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "open state cache database", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline (spec section 5)

	ss := &sqlstore{db: db}
	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return ss, nil
}

func (ss *sqlstore) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS state_cache (
			local_path   TEXT PRIMARY KEY,
			remote_key   TEXT NOT NULL,
			file_hash    TEXT NOT NULL,
			size         INTEGER NOT NULL,
			vector_clock TEXT NOT NULL,
			status       INTEGER NOT NULL
		);
	`
	if _, err := ss.db.Exec(schema); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "initialize state cache schema", err)
	}
	return nil
}

func (ss *sqlstore) Get(ctx context.Context, localPath string) (Entry, bool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var (
		remoteKey, fileHash, clockJSON string
		size                           int64
		status                         int
	)
	row := ss.db.QueryRowContext(ctx,
		`SELECT remote_key, file_hash, size, vector_clock, status FROM state_cache WHERE local_path = ?`,
		localPath)
	if err := row.Scan(&remoteKey, &fileHash, &size, &clockJSON, &status); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, tcfserrors.Wrap(tcfserrors.KindIo, "query state cache entry", err)
	}

	vc := clock.New()
	if err := json.Unmarshal([]byte(clockJSON), &vc); err != nil {
		return Entry{}, false, tcfserrors.Wrap(tcfserrors.KindIo, "unmarshal cached vector clock", err)
	}

	return Entry{
		LocalPath:   localPath,
		RemoteKey:   remoteKey,
		FileHash:    fileHash,
		Size:        size,
		VectorClock: vc,
		Status:      SyncStatus(status),
	}, true, nil
}

func (ss *sqlstore) Put(ctx context.Context, entry Entry) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	clockJSON, err := json.Marshal(entry.VectorClock)
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "marshal vector clock", err)
	}

	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO state_cache (local_path, remote_key, file_hash, size, vector_clock, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(local_path) DO UPDATE SET
		   remote_key = excluded.remote_key,
		   file_hash = excluded.file_hash,
		   size = excluded.size,
		   vector_clock = excluded.vector_clock,
		   status = excluded.status`,
		entry.LocalPath, entry.RemoteKey, entry.FileHash, entry.Size, string(clockJSON), int(entry.Status))
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "upsert state cache entry", err)
	}
	return nil
}

func (ss *sqlstore) Delete(ctx context.Context, localPath string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, err := ss.db.ExecContext(ctx, `DELETE FROM state_cache WHERE local_path = ?`, localPath); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "delete state cache entry", err)
	}
	return nil
}

func (ss *sqlstore) List(ctx context.Context) ([]Entry, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	rows, err := ss.db.QueryContext(ctx, `SELECT local_path, remote_key, file_hash, size, vector_clock, status FROM state_cache`)
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "list state cache entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			localPath, remoteKey, fileHash, clockJSON string
			size                                       int64
			status                                     int
		)
		if err := rows.Scan(&localPath, &remoteKey, &fileHash, &size, &clockJSON, &status); err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindIo, "scan state cache row", err)
		}
		vc := clock.New()
		if err := json.Unmarshal([]byte(clockJSON), &vc); err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindIo, "unmarshal cached vector clock", err)
		}
		out = append(out, Entry{
			LocalPath:   localPath,
			RemoteKey:   remoteKey,
			FileHash:    fileHash,
			Size:        size,
			VectorClock: vc,
			Status:      SyncStatus(status),
		})
	}
	return out, rows.Err()
}

func (ss *sqlstore) Close() error {
	return ss.db.Close()
}
