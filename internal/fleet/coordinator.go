package fleet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/tcfs-dev/tcfs/internal/cas"
	"github.com/tcfs-dev/tcfs/internal/chunker"
	"github.com/tcfs-dev/tcfs/internal/clock"
	"github.com/tcfs-dev/tcfs/internal/codec"
	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
	"github.com/tcfs-dev/tcfs/internal/fleet/eventstream"
	"github.com/tcfs-dev/tcfs/internal/identity"
	"github.com/tcfs-dev/tcfs/internal/manifest"
	"github.com/tcfs-dev/tcfs/internal/observability"
	"github.com/tcfs-dev/tcfs/internal/statecache"
)

// Coordinator wires CAS, codec, manifest, clock, state cache, event
// stream, and device identity into the push/pull sequences of spec
// section 4.6.2 and 4.6.3, grounded on the teacher's SessionManager
// orchestration.
type Coordinator struct {
	DeviceID string
	Prefix   string // CAS namespace prefix (spec section 4.3)

	Store      cas.Store
	Codec      *codec.Codec
	StateCache statecache.Store
	Events     eventstream.EventStream
	Resolver   *Resolver
	SigningKey ed25519.PrivateKey

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Push chunks localPath, uploads any chunks missing from the CAS,
// writes a new manifest, and publishes a FileSynced event (spec
// section 4.6.2):
//
//  1. split the file into content-defined chunks
//  2. for each chunk, Put into the CAS (a no-op if already present)
//  3. tick the local vector clock and build a manifest
//  4. upload the manifest
//  5. update the state cache and publish FileSynced
func (c *Coordinator) Push(ctx context.Context, localPath, remotePath string, fileKey *codec.FileKey, wrappedFileKey []byte) (*manifest.Manifest, error) {
	start := time.Now()
	f, err := os.Open(localPath)
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "open file for push", err)
	}
	defer f.Close()

	chunks, err := chunker.Split(f, chunker.Default())
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "chunk file", err)
	}

	fileHash := wholeFileHash(chunks)
	if c.Logger != nil {
		c.Logger.PushStarted(localPath, int64(chunker.TotalSize(chunks)), len(chunks))
	}

	descriptors := make([]manifest.ChunkDescriptor, len(chunks))
	for i, chunk := range chunks {
		descriptor := manifest.ChunkDescriptor{Index: i, Hash: hex.EncodeToString(chunk.Hash[:]), Length: int(chunk.Length)}

		exists, err := c.Store.Exists(ctx, cas.ChunkKey(c.Prefix, chunk.Hash))
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindTransport, "check chunk existence", err)
		}

		// Encode runs even on a dedup hit: compression and encryption
		// are both deterministic functions of (plaintext, fileKey), so
		// this recomputes the Frame that was used the first time this
		// content hash was stored, without needing to look it up.
		blob, frame, err := c.Codec.Encode(chunk.Data, fileKey, fileHash[:], uint64(i))
		if err != nil {
			if c.Metrics != nil {
				c.Metrics.RecordCodecOperation("encode", false)
			}
			return nil, tcfserrors.Wrap(tcfserrors.KindIo, fmt.Sprintf("encode chunk %d", i), err)
		}
		if c.Metrics != nil {
			c.Metrics.RecordCodecOperation("encode", true)
		}
		descriptor.Compressed = frame.Compressed
		descriptor.Encrypted = frame.Encrypted

		if !exists {
			if err := c.Store.Put(ctx, cas.ChunkKey(c.Prefix, chunk.Hash), blob); err != nil {
				if c.Metrics != nil {
					c.Metrics.RecordCASOperation("put", false, time.Since(start).Seconds())
				}
				return nil, tcfserrors.Wrap(tcfserrors.KindTransport, "upload chunk", err)
			}
			if c.Metrics != nil {
				c.Metrics.RecordCASOperation("put", true, time.Since(start).Seconds())
			}
		}

		if c.Logger != nil {
			c.Logger.ChunkPut(localPath, i, int(chunk.Length), exists)
		}
		if c.Metrics != nil {
			c.Metrics.RecordChunkProduced(exists, len(chunk.Data))
		}

		descriptors[i] = descriptor
	}

	prior, found, err := c.StateCache.Get(ctx, localPath)
	if err != nil {
		return nil, err
	}
	vc := clock.New()
	if found {
		vc = prior.VectorClock.Clone()
	}
	vc = clock.Tick(vc, c.DeviceID)

	m := manifest.New(fileHash[:], descriptors, vc, "")
	m.EncryptedFileKey = wrappedFileKey

	raw, err := manifest.Serialize(m)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(ctx, manifest.Key(c.Prefix, fileHash[:]), raw); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindTransport, "upload manifest", err)
	}

	if err := c.StateCache.Put(ctx, statecache.Entry{
		LocalPath:   localPath,
		RemoteKey:   remotePath,
		FileHash:    m.FileHash,
		Size:        m.FileSize,
		VectorClock: vc,
		Status:      statecache.StatusSynced,
	}); err != nil {
		return nil, err
	}

	if c.Events != nil {
		event := eventstream.NewFileSynced(c.DeviceID, remotePath, m.FileHash, vc)
		if err := c.Events.Publish(ctx, event); err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindTransport, "publish file synced event", err)
		}
		if c.Metrics != nil {
			c.Metrics.RecordEventPublished(string(event.Type))
		}
	}

	if c.Logger != nil {
		c.Logger.PushCompleted(localPath, m.FileSize, len(chunks), time.Since(start), true)
	}
	if c.Metrics != nil {
		c.Metrics.RecordPushComplete(true, time.Since(start).Seconds())
	}

	return m, nil
}

// Pull fetches the manifest for fileHash, compares its vector clock
// against the locally cached one, and reassembles the plaintext into
// localPath when the remote is strictly newer (spec section 4.6.3). A
// Concurrent comparison is handed to the Resolver instead of being
// reassembled directly.
func (c *Coordinator) Pull(ctx context.Context, localPath, remotePath, fileHash string, fileKey *codec.FileKey) error {
	start := time.Now()
	if c.Logger != nil {
		c.Logger.PullStarted(localPath, fileHash)
	}

	hashBytes, err := hex.DecodeString(fileHash)
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindConfig, "decode file hash", err)
	}

	raw, err := c.Store.Get(ctx, manifest.Key(c.Prefix, hashBytes))
	if err != nil {
		kind := tcfserrors.KindOf(err)
		if kind == tcfserrors.KindUnknown {
			kind = tcfserrors.KindTransport
		}
		return tcfserrors.Wrap(kind, "fetch manifest", err)
	}
	remote, err := manifest.Parse(raw)
	if err != nil {
		return err
	}

	prior, found, err := c.StateCache.Get(ctx, localPath)
	if err != nil {
		return err
	}

	if found {
		ordering := clock.Compare(prior.VectorClock, remote.VectorClock)
		switch ordering {
		case clock.Equal, clock.After:
			// local already has this version or a newer one; nothing to do
			return nil
		case clock.Concurrent:
			return c.handleConflict(ctx, localPath, remotePath, prior, remote)
		case clock.Before:
			// fall through to reassembly
		}
	}

	plaintext, err := c.reassemble(ctx, remote, fileKey)
	if err != nil {
		return err
	}
	if err := remote.VerifyFileHash(plaintext); err != nil {
		return err
	}
	if err := atomicWriteFile(localPath, plaintext); err != nil {
		return err
	}

	if err := c.StateCache.Put(ctx, statecache.Entry{
		LocalPath:   localPath,
		RemoteKey:   remotePath,
		FileHash:    remote.FileHash,
		Size:        remote.FileSize,
		VectorClock: remote.VectorClock,
		Status:      statecache.StatusSynced,
	}); err != nil {
		return err
	}

	if c.Logger != nil {
		c.Logger.PullCompleted(localPath, remote.FileSize, time.Since(start))
	}
	if c.Metrics != nil {
		c.Metrics.RecordPullComplete(true, time.Since(start).Seconds())
	}
	return nil
}

// reassemble fetches and decodes every chunk of m in order, verifying
// each chunk's content hash against the CAS key it was fetched under
// (spec section 4.3 and 4.6.3).
func (c *Coordinator) reassemble(ctx context.Context, m *manifest.Manifest, fileKey *codec.FileKey) ([]byte, error) {
	var buf bytes.Buffer
	fileHashBytes, err := hex.DecodeString(m.FileHash)
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIntegrity, "decode manifest file hash", err)
	}

	for _, cd := range m.Chunks {
		var chunkHash [32]byte
		decoded, err := hex.DecodeString(cd.Hash)
		if err != nil || len(decoded) != 32 {
			return nil, tcfserrors.New(tcfserrors.KindIntegrity, fmt.Sprintf("chunk %d has malformed hash", cd.Index))
		}
		copy(chunkHash[:], decoded)

		blob, err := c.Store.Get(ctx, cas.ChunkKey(c.Prefix, chunkHash))
		if err != nil {
			if c.Logger != nil {
				c.Logger.ChunkDecodeFailed("", cd.Index, tcfserrors.KindOf(err).String(), err.Error(), 0)
			}
			return nil, tcfserrors.Wrap(tcfserrors.KindTransport, fmt.Sprintf("fetch chunk %d", cd.Index), err)
		}

		frame := codec.Frame{Compressed: cd.Compressed, Encrypted: cd.Encrypted}
		plain, err := c.Codec.Decode(blob, frame, fileKey, fileHashBytes, uint64(cd.Index))
		if err != nil {
			if c.Metrics != nil {
				c.Metrics.RecordCodecOperation("decode", false)
			}
			return nil, tcfserrors.Wrap(tcfserrors.KindIntegrity, fmt.Sprintf("decode chunk %d", cd.Index), err)
		}
		if c.Metrics != nil {
			c.Metrics.RecordCodecOperation("decode", true)
		}
		buf.Write(plain)
	}

	return buf.Bytes(), nil
}

// handleConflict runs the Resolver against a Concurrent clock pair and
// acts on its verdict (spec section 4.6.4).
func (c *Coordinator) handleConflict(ctx context.Context, localPath, remotePath string, localEntry statecache.Entry, remote *manifest.Manifest) error {
	if c.Logger != nil {
		c.Logger.ConflictDetected(localPath, c.DeviceID, remotePath)
	}
	if c.Metrics != nil {
		c.Metrics.RecordConflictDetected()
	}

	if c.Resolver == nil {
		return c.StateCache.Put(ctx, statecache.Entry{
			LocalPath:   localPath,
			RemoteKey:   localEntry.RemoteKey,
			FileHash:    localEntry.FileHash,
			Size:        localEntry.Size,
			VectorClock: localEntry.VectorClock,
			Status:      statecache.StatusConflict,
		})
	}

	local := &manifest.Manifest{FileHash: localEntry.FileHash, FileSize: localEntry.Size, VectorClock: localEntry.VectorClock}
	outcome := c.Resolver.Resolve(localPath, local, remote, remoteVectorClockOwner(remote.VectorClock, c.DeviceID))

	switch outcome.Resolution {
	case ResolutionDefer:
		return c.StateCache.Put(ctx, statecache.Entry{
			LocalPath:   localPath,
			RemoteKey:   localEntry.RemoteKey,
			FileHash:    localEntry.FileHash,
			Size:        localEntry.Size,
			VectorClock: localEntry.VectorClock,
			Status:      statecache.StatusConflict,
		})
	case ResolutionKeepRemote:
		// local is the loser here: preserve its current content under
		// SiblingPath before the remote version overwrites localPath,
		// so the concurrent local edit isn't silently discarded.
		if outcome.SiblingPath != "" {
			if err := preserveAsSibling(localPath, outcome.SiblingPath); err != nil {
				return err
			}
		}
		merged := TickAndMerge(localEntry.VectorClock, remote.VectorClock, c.DeviceID)
		if err := c.pullInto(ctx, localPath, remote); err != nil {
			return err
		}
		return c.finishResolution(ctx, localPath, localEntry.RemoteKey, remote.FileHash, remote.FileSize, merged, "auto")
	case ResolutionKeepLocal:
		// remote is the loser here: materialize it under SiblingPath so
		// the peer's concurrent edit survives alongside the kept local copy.
		if outcome.SiblingPath != "" {
			if err := c.pullInto(ctx, outcome.SiblingPath, remote); err != nil {
				return err
			}
		}
		merged := TickAndMerge(localEntry.VectorClock, remote.VectorClock, c.DeviceID)
		return c.finishResolution(ctx, localPath, localEntry.RemoteKey, localEntry.FileHash, localEntry.Size, merged, "auto")
	case ResolutionKeepBoth:
		if err := c.pullInto(ctx, outcome.SiblingPath, remote); err != nil {
			return err
		}
		merged := TickAndMerge(localEntry.VectorClock, remote.VectorClock, c.DeviceID)
		return c.finishResolution(ctx, localPath, localEntry.RemoteKey, localEntry.FileHash, localEntry.Size, merged, "auto")
	}
	return nil
}

// preserveAsSibling copies the current on-disk content of localPath to
// siblingPath, so it survives an imminent overwrite with the winning
// side's content (spec section 4.6.4: losing copy keeps a suffix that
// preserves provenance).
func preserveAsSibling(localPath, siblingPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "read local file before conflict overwrite", err)
	}
	return atomicWriteFile(siblingPath, data)
}

func (c *Coordinator) pullInto(ctx context.Context, path string, m *manifest.Manifest) error {
	plaintext, err := c.reassemble(ctx, m, nil)
	if err != nil {
		return err
	}
	if err := m.VerifyFileHash(plaintext); err != nil {
		return err
	}
	return atomicWriteFile(path, plaintext)
}

func (c *Coordinator) finishResolution(ctx context.Context, localPath, remoteKey, fileHash string, size int64, vc clock.Clock, strategy string) error {
	if err := c.StateCache.Put(ctx, statecache.Entry{
		LocalPath:   localPath,
		RemoteKey:   remoteKey,
		FileHash:    fileHash,
		Size:        size,
		VectorClock: vc,
		Status:      statecache.StatusSynced,
	}); err != nil {
		return err
	}

	if c.Logger != nil {
		c.Logger.ConflictResolved(localPath, strategy, localPath+".conflict-resolved")
	}
	if c.Metrics != nil {
		c.Metrics.RecordConflictResolved(strategy)
	}

	if c.Events != nil {
		var sig []byte
		if c.SigningKey != nil {
			s, err := SignConflictResolution(c.SigningKey, localPath, c.DeviceID, strategy)
			if err != nil {
				return tcfserrors.Wrap(tcfserrors.KindIo, "sign conflict resolution", err)
			}
			sig = s
		}
		event := eventstream.NewConflictResolved(c.DeviceID, localPath, c.DeviceID, strategy, vc, sig)
		if err := c.Events.Publish(ctx, event); err != nil {
			return tcfserrors.Wrap(tcfserrors.KindTransport, "publish conflict resolved event", err)
		}
	}
	return nil
}

// RunAutoPull consumes FileSynced events published by other devices
// and pulls each one, until ctx is cancelled (spec section 4.6.3:
// "auto-pull mode"). consumerID is this device's durable subscription
// name, separate from DeviceID so a device can run multiple
// subscriptions (e.g. one per watched root).
func (c *Coordinator) RunAutoPull(ctx context.Context, consumerID string, resolvePath func(remotePath string) string, fileKey *codec.FileKey) error {
	sub, err := c.Events.Subscribe(ctx, consumerID)
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindTransport, "subscribe to event stream", err)
	}
	defer sub.Close()

	for {
		event, err := sub.Next(ctx)
		if err != nil {
			if tcfserrors.KindOf(err) == tcfserrors.KindCancelled {
				return nil
			}
			return err
		}

		if event.Type == eventstream.EventFileSynced && event.DeviceID != c.DeviceID {
			if c.Metrics != nil {
				c.Metrics.RecordEventApplied(string(event.Type))
			}
			localPath := resolvePath(event.Path)
			if err := c.Pull(ctx, localPath, event.Path, event.FileHash, fileKey); err != nil {
				if c.Logger != nil {
					c.Logger.Error(err, "auto-pull failed for "+event.Path)
				}
			}
		}

		if event.Type == eventstream.EventConflictResolved && event.DeviceID != c.DeviceID {
			if c.verifyConflictEvent(ctx, event) {
				if c.Metrics != nil {
					c.Metrics.RecordEventApplied(string(event.Type))
				}
			} else if c.Logger != nil {
				c.Logger.Error(tcfserrors.New(tcfserrors.KindIntegrity, "signature verification failed"),
					"dropping unverified conflict resolution for "+event.Path)
			}
		}

		if err := sub.Ack(ctx, event); err != nil {
			return tcfserrors.Wrap(tcfserrors.KindTransport, "ack event", err)
		}
	}
}

// verifyConflictEvent checks a ConflictResolved event's signature
// against the publishing device's registered public key, so a device
// never acts on a resolution claim it can't authenticate (spec section
// 4.6.4).
func (c *Coordinator) verifyConflictEvent(ctx context.Context, event eventstream.StateEvent) bool {
	if len(event.Signature) == 0 {
		return false
	}
	registry, err := identity.LoadRegistry(ctx, c.Store, c.Prefix)
	if err != nil {
		return false
	}
	rec, ok := registry.Find(event.DeviceID)
	if !ok || rec.Revoked {
		return false
	}
	return VerifyConflictResolution(ed25519.PublicKey(rec.PublicKey), event.Path, event.ChosenDevice, event.Strategy, event.Signature)
}

// atomicWriteFile writes data to a temporary sibling of path, fsyncs
// it, and renames it into place, so a crash mid-write never leaves a
// partially-reassembled file at path (spec section 4.6.3).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "create parent directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tcfs-reassemble-*")
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "create temp file for reassembly", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "write reassembled file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "fsync reassembled file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "close reassembled file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return tcfserrors.Wrap(tcfserrors.KindIo, "rename reassembled file into place", err)
	}
	return nil
}

// wholeFileHash recomputes BLAKE3 over the concatenation of every
// chunk's plaintext, matching the file_hash invariant (spec section 3).
func wholeFileHash(chunks []*chunker.Chunk) [32]byte {
	h := blake3.New()
	for _, c := range chunks {
		h.Write(c.Data)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// remoteVectorClockOwner picks the device-id entry in vc that isn't
// self, for use as the tie-break comparand in auto conflict
// resolution. With exactly two contributing devices this is
// unambiguous; with more than two it picks the lexicographically
// greatest other device, which keeps the tie-break deterministic
// without needing to plumb the originating device-id through the
// caller.
func remoteVectorClockOwner(vc clock.Clock, self string) string {
	var best string
	for device := range vc {
		if device == self {
			continue
		}
		if device > best {
			best = device
		}
	}
	return best
}

