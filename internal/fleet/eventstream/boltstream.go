package eventstream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

var (
	eventsBucket  = []byte("fleet_events")
	cursorsBucket = []byte("fleet_cursors")
)

// boltStream is the durable, BoltDB-backed EventStream (spec section
// 4.6.1), grounded on the teacher's bolt-backed DTNQueue reshaped from
// a delete-on-dequeue queue into an append-only log with per-consumer
// cursor offsets: events are never removed on delivery, only on
// retention expiry, so every durable consumer can redeliver from its
// own last-acked position independent of any other consumer's
// progress.
type boltStream struct {
	db            *bolt.DB
	pollInterval  time.Duration
	retention     time.Duration
}

// OpenBoltStream opens (or creates) a durable event stream at path.
// retentionDays bounds how long undelivered events are kept (spec
// section 4.6.1: "Bounded by time ... stale events are discarded").
func OpenBoltStream(path string, retentionDays int) (EventStream, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "open event stream database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(eventsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(cursorsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "initialize event stream buckets", err)
	}

	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &boltStream{
		db:           db,
		pollInterval: 100 * time.Millisecond,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
	}, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (b *boltStream) Publish(ctx context.Context, event StateEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "marshal state event", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), data)
	})
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "append state event", err)
	}
	return nil
}

// Prune deletes events older than the configured retention window
// (spec section 4.6.1), whether or not every consumer has acked them.
// A consumer that resumes after longer than the retention window never
// sees the pruned events; this package does not replay them.
func (b *boltStream) Prune(ctx context.Context) error {
	cutoff := time.Now().Add(-b.retention)
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		c := bucket.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var event StateEvent
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			if event.Timestamp.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltStream) Subscribe(ctx context.Context, consumerID string) (Subscription, error) {
	return &boltSubscription{stream: b, consumerID: []byte(consumerID)}, nil
}

func (b *boltStream) cursorLocked(tx *bolt.Tx, consumerID []byte) uint64 {
	raw := tx.Bucket(cursorsBucket).Get(consumerID)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// nextAfterCursor returns the lowest-sequence event strictly after the
// consumer's cursor, or ok=false if none is pending.
func (b *boltStream) nextAfterCursor(consumerID []byte) (seq uint64, event StateEvent, ok bool, err error) {
	txErr := b.db.View(func(tx *bolt.Tx) error {
		cursor := b.cursorLocked(tx, consumerID)
		eb := tx.Bucket(eventsBucket)
		c := eb.Cursor()
		for k, v := c.Seek(seqKey(cursor + 1)); k != nil; k, v = c.Next() {
			candidate := binary.BigEndian.Uint64(k)
			if candidate <= cursor {
				continue
			}
			if unmarshalErr := json.Unmarshal(v, &event); unmarshalErr != nil {
				return unmarshalErr
			}
			seq = candidate
			ok = true
			return nil
		}
		return nil
	})
	if txErr != nil {
		return 0, StateEvent{}, false, tcfserrors.Wrap(tcfserrors.KindIo, "read next event", txErr)
	}
	return seq, event, ok, nil
}

type boltSubscription struct {
	stream     *boltStream
	consumerID []byte
}

func (s *boltSubscription) Next(ctx context.Context) (StateEvent, error) {
	for {
		_, event, ok, err := s.stream.nextAfterCursor(s.consumerID)
		if err != nil {
			return StateEvent{}, err
		}
		if ok {
			return event, nil
		}
		select {
		case <-ctx.Done():
			return StateEvent{}, tcfserrors.Wrap(tcfserrors.KindCancelled, "wait for next event", ctx.Err())
		case <-time.After(s.stream.pollInterval):
		}
	}
}

func (s *boltSubscription) Ack(ctx context.Context, event StateEvent) error {
	seq, _, ok, err := s.stream.nextAfterCursorMatching(s.consumerID, event)
	if err != nil {
		return err
	}
	if !ok {
		// Already acked or not found (e.g. pruned); treat as success so a
		// duplicate ack from a crash-retry loop is harmless.
		return nil
	}
	return s.stream.db.Update(func(tx *bolt.Tx) error {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return tx.Bucket(cursorsBucket).Put(s.consumerID, key)
	})
}

func (s *boltSubscription) Close() error { return nil }

// nextAfterCursorMatching locates the sequence number assigned to
// event by scanning forward from the consumer's cursor; acking by
// value (rather than trusting a sequence the caller doesn't have)
// keeps the Subscription interface free of storage-specific handles.
func (b *boltStream) nextAfterCursorMatching(consumerID []byte, want StateEvent) (seq uint64, found StateEvent, ok bool, err error) {
	wantData, err := json.Marshal(want)
	if err != nil {
		return 0, StateEvent{}, false, tcfserrors.Wrap(tcfserrors.KindIo, "marshal event for ack lookup", err)
	}

	txErr := b.db.View(func(tx *bolt.Tx) error {
		cursor := b.cursorLocked(tx, consumerID)
		eb := tx.Bucket(eventsBucket)
		c := eb.Cursor()
		for k, v := c.Seek(seqKey(cursor + 1)); k != nil; k, v = c.Next() {
			if string(v) == string(wantData) {
				seq = binary.BigEndian.Uint64(k)
				found = want
				ok = true
				return nil
			}
		}
		return nil
	})
	if txErr != nil {
		return 0, StateEvent{}, false, tcfserrors.Wrap(tcfserrors.KindIo, "locate event for ack", txErr)
	}
	return seq, found, ok, nil
}

// Close releases the underlying BoltDB handle. Not part of the
// EventStream interface since callers hold the concrete *boltStream
// only at construction time; exposed for explicit daemon shutdown.
func CloseBoltStream(es EventStream) error {
	if bs, ok := es.(*boltStream); ok {
		return bs.db.Close()
	}
	return nil
}

// PruneBoltStream runs retention sweep on es if it is a durable
// BoltDB-backed stream; nothing prunes unless a caller invokes it
// (cmd/tcfsd does not). It is a no-op for any other EventStream
// implementation (e.g. memStream, which carries no retention state).
func PruneBoltStream(es EventStream) error {
	if bs, ok := es.(*boltStream); ok {
		return bs.Prune(context.Background())
	}
	return nil
}
