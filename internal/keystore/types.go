// Package keystore provides cryptographic primitives for protecting
// device identity keys and per-file symmetric keys at rest:
//   - Ed25519 identity keypairs for device authentication
//   - AES-256-GCM authenticated encryption, used both for local keystore
//     protection and for wrapping per-file keys under the master key
//   - Argon2id-derived passphrase encryption for the on-disk keystore
package keystore

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
)

// Ed25519KeyPair represents an Ed25519 identity keypair.
type Ed25519KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// KeystoreEntry represents an encrypted Ed25519 private key stored on disk.
type KeystoreEntry struct {
	Version       int    `json:"version"`
	KDF           string `json:"kdf"`
	Argon2Time    int    `json:"argon2_time"`
	Argon2Memory  int    `json:"argon2_memory"`
	Argon2Threads int    `json:"argon2_threads"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// ComputeFingerprint computes a SHA-256 fingerprint of a public key.
func ComputeFingerprint(publicKey ed25519.PublicKey) string {
	hash := sha256.Sum256(publicKey)
	return "SHA256:" + hex.EncodeToString(hash[:])
}
