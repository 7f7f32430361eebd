// Package cas abstracts the remote object store behind a minimal verb
// set with content-addressed semantics and retry (spec section 4.3).
// Two implementations satisfy the Store interface: S3Store talks to any
// S3-compatible bucket via aws-sdk-go-v2, and BoltStore is an embedded,
// single-node store for local development and tests.
package cas

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/zeebo/blake3"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// Store is the capability interface every CAS backend implements. It is
// deliberately narrow: put, get, exists, list, matching spec section
// 4.3. Overwrite exists for the one mutable key in the layout, the
// device registry, whose identity is the fleet rather than its
// content; Put's content-addressed no-op guard must not apply to it.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Overwrite(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Used only by the chunk GC scan-and-sweep
	// (spec section 8: "GC must be a scan"); ordinary push/pull never
	// deletes content-addressed data.
	Delete(ctx context.Context, key string) error
}

// Key layout helpers (spec section 4.3). The prefix is a deployment's
// top-level namespace within the bucket.
func ChunkKey(prefix string, hash [32]byte) string {
	return fmt.Sprintf("%s/chunks/%s", prefix, hex.EncodeToString(hash[:]))
}

func ManifestKey(prefix string, fileHash []byte) string {
	return fmt.Sprintf("%s/manifests/%s", prefix, hex.EncodeToString(fileHash))
}

func DeviceRegistryKey(prefix string) string {
	return prefix + "/devices/registry"
}

// RetryPolicy controls the exponential-backoff-with-jitter retry loop
// used around Transport errors (spec section 4.3). NotFound and
// authentication errors are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches spec section 4.3: "up to 5 attempts".
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// withRetry runs op, retrying only KindTransport failures with
// exponential backoff and full jitter, up to policy.MaxAttempts total
// attempts.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if tcfserrors.KindOf(lastErr) != tcfserrors.KindTransport {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := policy.BaseDelay << uint(attempt)
		if delay > policy.MaxDelay || delay <= 0 {
			delay = policy.MaxDelay
		}
		jittered := time.Duration(rand.Int63n(int64(delay) + 1))

		select {
		case <-ctx.Done():
			return tcfserrors.Wrap(tcfserrors.KindCancelled, "cas retry cancelled", ctx.Err())
		case <-time.After(jittered):
		}
	}
	return lastErr
}

// verifyChunkIntegrity recomputes BLAKE3 over data and compares it
// against the hex-encoded hash suffix of key, per spec section 4.3:
// "every get on a chunk key recomputes BLAKE3... a mismatch is
// IntegrityError and does not retry".
func verifyChunkIntegrity(wantHex string, data []byte) error {
	sum := blake3.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != wantHex {
		return tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("chunk content hash %s does not match requested key hash %s", got, wantHex))
	}
	return nil
}
