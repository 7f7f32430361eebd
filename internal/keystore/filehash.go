package keystore

import (
	"io"
	"os"

	"github.com/zeebo/blake3"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// ComputeFileHash returns the BLAKE3 digest of the file at path, for
// whole-file verification independent of the chunker (e.g. confirming
// a fully-hydrated file before deleting its stub).
func ComputeFileHash(path string) ([32]byte, error) {
	var zero [32]byte
	f, err := os.Open(path)
	if err != nil {
		return zero, tcfserrors.Wrap(tcfserrors.KindIo, "open file for hashing", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return zero, tcfserrors.Wrap(tcfserrors.KindIo, "read file for hashing", err)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
