package keystore

import (
	"crypto/rand"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// WrapFileKey wraps a per-file 256-bit symmetric key under masterKey
// using AES-256-GCM, for storage in a manifest's encrypted_file_key
// field (spec section 4.2). The returned blob is
// [12-byte nonce][ciphertext+tag].
func WrapFileKey(masterKey, fileKey []byte) ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIo, "generate file key wrap nonce", err)
	}
	ciphertext, err := Seal(masterKey, nonce, nil, fileKey)
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "wrap file key", err)
	}
	return append(nonce, ciphertext...), nil
}

// UnwrapFileKey reverses WrapFileKey. A tampered or wrong-master-key
// blob fails closed with KindIntegrity.
func UnwrapFileKey(masterKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 12 {
		return nil, tcfserrors.New(tcfserrors.KindIntegrity, "wrapped file key shorter than nonce")
	}
	nonce, ciphertext := wrapped[:12], wrapped[12:]
	plain, err := Open(masterKey, nonce, nil, ciphertext)
	if err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIntegrity, "unwrap file key", err)
	}
	return plain, nil
}
