// Package chunker splits byte streams into variable-size content-defined
// chunks using FastCDC and hashes each chunk with BLAKE3 (spec section
// 4.1). Content-defined boundaries, rather than fixed-size splitting,
// preserve deduplication across insertions and deletions near an edit
// point.
package chunker

import (
	"io"

	"github.com/jotfs/fastcdc-go"
	"github.com/zeebo/blake3"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// Size bounds are a design contract (spec section 4.1): two writers
// chunking identical bytes must produce identical boundaries, so these
// values must never vary between devices sharing a fleet.
const (
	MinSize = 2 * 1024
	AvgSize = 8 * 1024
	MaxSize = 16 * 1024
)

// Chunk is one content-defined, hashed slice of an input stream.
type Chunk struct {
	Hash   [32]byte
	Offset uint64
	Length uint32
	Data   []byte
}

// Options configures chunk size bounds. Callers almost always want
// Default(); a non-default Options is a compatibility break with any
// prior CAS content for the same files (spec section 6).
type Options struct {
	MinSize int
	AvgSize int
	MaxSize int
}

// Default returns the spec-mandated 2 KiB / 8 KiB / 16 KiB bounds.
func Default() Options {
	return Options{MinSize: MinSize, AvgSize: AvgSize, MaxSize: MaxSize}
}

// Chunker incrementally splits a reader into content-defined chunks.
// It is restartable only in the sense that a fresh Chunker over a fresh
// reader reproduces the same boundaries — it holds no cross-call state
// beyond what fastcdc needs to buffer internally.
type Chunker struct {
	underlying *fastcdc.Chunker
	offset     uint64
}

// New wraps r in a FastCDC chunker using opts.
func New(r io.Reader, opts Options) (*Chunker, error) {
	fc, err := fastcdc.NewChunker(r, fastcdc.Options{
		MinSize:     opts.MinSize,
		AverageSize: opts.AvgSize,
		MaxSize:     opts.MaxSize,
	})
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "construct fastcdc chunker", err)
	}
	return &Chunker{underlying: fc}, nil
}

// Next returns the next chunk, or io.EOF when the stream is exhausted.
// A failure to read from the underlying stream is classified KindIo
// (spec section 4.1: "ReadError ... bubble up").
func (c *Chunker) Next() (*Chunk, error) {
	fc, err := c.underlying.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "read next chunk", err)
	}

	data := make([]byte, len(fc.Data))
	copy(data, fc.Data)

	chunk := &Chunk{
		Hash:   blake3.Sum256(data),
		Offset: c.offset,
		Length: uint32(len(data)),
		Data:   data,
	}
	c.offset += uint64(len(data))
	return chunk, nil
}

// Split consumes r entirely and returns every chunk in order. Use Next
// directly when streaming chunks to the CAS without holding the whole
// file's chunk set in memory.
func Split(r io.Reader, opts Options) ([]*Chunk, error) {
	c, err := New(r, opts)
	if err != nil {
		return nil, err
	}

	var chunks []*Chunk
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}

// TotalSize returns the sum of every chunk's Length, matching the
// file_size == sum(chunks.length) invariant (spec section 3).
func TotalSize(chunks []*Chunk) uint64 {
	var total uint64
	for _, c := range chunks {
		total += uint64(c.Length)
	}
	return total
}
