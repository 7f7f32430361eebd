package cas

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

var objectsBucket = []byte("objects")

// BoltStore is a single-node, embedded Store for local development and
// dev-mode deployments that do not need a remote bucket. It implements
// the same content-addressed Store contract as S3Store.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a BoltDB file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "open bolt cas", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(objectsBucket)
		return e
	})
	if err != nil {
		db.Close()
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "create bolt cas bucket", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) Put(_ context.Context, key string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(objectsBucket)
		existing := bk.Get([]byte(key))
		if existing != nil {
			// Content-addressed: an existing value under this key is
			// already the right bytes, matching spec section 4.3's
			// no-op-on-existing-identity put semantics.
			return nil
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		return bk.Put([]byte(key), cp)
	})
}

// Overwrite unconditionally replaces key's content, for the one
// mutable key in the layout (the device registry).
func (b *BoltStore) Overwrite(_ context.Context, key string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(objectsBucket)
		cp := make([]byte, len(data))
		copy(cp, data)
		return bk.Put([]byte(key), cp)
	})
}

func (b *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(objectsBucket)
		v := bk.Get([]byte(key))
		if v == nil {
			return tcfserrors.New(tcfserrors.KindNotFound, "key not found: "+key)
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hash, ok := chunkHashFromKey(key); ok {
		if err := verifyChunkIntegrity(hash, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *BoltStore) Exists(_ context.Context, key string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(objectsBucket)
		found = bk.Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Delete removes key unconditionally. Used only by the chunk GC tool.
func (b *BoltStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).Delete([]byte(key))
	})
}

func (b *BoltStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(objectsBucket)
		c := bk.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}
