// Package codec transforms plaintext chunks into storage blobs and back
// (spec section 4.2): zstd compression per chunk, followed by optional
// per-file XChaCha20-Poly1305 authenticated encryption.
package codec

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// FileKey is a per-file 256-bit symmetric key generated at first push
// and wrapped with the master key for storage in the manifest's
// encrypted_file_key field (spec section 4.2).
type FileKey [32]byte

const (
	nonceSize = chacha20poly1305.NonceSizeX // 24 bytes
	tagSize   = chacha20poly1305.Overhead   // 16 bytes
)

// Frame describes, out of band from the blob itself, how a chunk was
// encoded. It belongs in the manifest, not the blob (spec section 4.2:
// "blob identity = BLAKE3(plaintext)").
type Frame struct {
	Compressed bool
	Encrypted  bool
}

// Codec compresses and optionally encrypts chunk plaintext for storage,
// and reverses the transform on read.
type Codec struct {
	compression bool
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// New constructs a Codec. compression toggles zstd level 3 on each
// chunk independently; encryption is applied per call to Encode only
// when a non-nil FileKey is supplied, so a single Codec can serve both
// encrypted and plaintext deployments.
func New(compression bool) (*Codec, error) {
	c := &Codec{compression: compression}
	if compression {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "construct zstd encoder", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "construct zstd decoder", err)
		}
		c.encoder, c.decoder = enc, dec
	}
	return c, nil
}

// Close releases the underlying zstd decoder goroutines.
func (c *Codec) Close() {
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// Encode compresses plaintext (if compression is on) and then
// encrypts it (if key is non-nil), returning the storage blob and the
// Frame describing which transforms were applied. chunkIndex and
// fileHash become the AEAD's associated data, binding a ciphertext to
// its position within a specific file and preventing chunk
// substitution across files or positions (spec section 4.2).
func (c *Codec) Encode(plaintext []byte, key *FileKey, fileHash []byte, chunkIndex uint64) ([]byte, Frame, error) {
	frame := Frame{}

	payload := plaintext
	if c.compression {
		compressed := c.encoder.EncodeAll(plaintext, nil)
		if len(compressed) < len(plaintext) {
			payload = compressed
			frame.Compressed = true
		}
	}

	if key == nil {
		return payload, frame, nil
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, frame, tcfserrors.Wrap(tcfserrors.KindConfig, "construct XChaCha20-Poly1305", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, frame, tcfserrors.Wrap(tcfserrors.KindIo, "generate chunk nonce", err)
	}

	aad := chunkAAD(chunkIndex, fileHash)
	sealed := aead.Seal(nil, nonce, payload, aad)

	blob := make([]byte, 0, len(nonce)+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	frame.Encrypted = true

	return blob, frame, nil
}

// Decode reverses Encode. A tag or AAD mismatch fails closed with a
// KindIntegrity error; the caller must discard the chunk and fail the
// pull for that file (spec section 4.2).
func (c *Codec) Decode(blob []byte, frame Frame, key *FileKey, fileHash []byte, chunkIndex uint64) ([]byte, error) {
	payload := blob

	if frame.Encrypted {
		if key == nil {
			return nil, tcfserrors.New(tcfserrors.KindConfig, "encrypted chunk but no file key supplied")
		}
		if len(blob) < nonceSize+tagSize {
			return nil, tcfserrors.New(tcfserrors.KindIntegrity, "chunk frame shorter than nonce+tag")
		}

		aead, err := chacha20poly1305.NewX(key[:])
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "construct XChaCha20-Poly1305", err)
		}

		nonce := blob[:nonceSize]
		ciphertext := blob[nonceSize:]
		aad := chunkAAD(chunkIndex, fileHash)

		plain, err := aead.Open(nil, nonce, ciphertext, aad)
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindIntegrity, "chunk authentication failed", err)
		}
		payload = plain
	}

	if frame.Compressed {
		if !c.compression {
			return nil, tcfserrors.New(tcfserrors.KindConfig, "chunk is compressed but codec has compression disabled")
		}
		plain, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, tcfserrors.Wrap(tcfserrors.KindIntegrity, "zstd decompression failed", err)
		}
		return plain, nil
	}

	if frame.Encrypted {
		// payload already a freshly allocated slice from aead.Open.
		return payload, nil
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// chunkAAD builds the associated data binding a chunk to its file and
// position: chunk-index concatenated with file-hash (spec section 4.2).
func chunkAAD(chunkIndex uint64, fileHash []byte) []byte {
	aad := make([]byte, 8+len(fileHash))
	binary.BigEndian.PutUint64(aad[:8], chunkIndex)
	copy(aad[8:], fileHash)
	return aad
}
