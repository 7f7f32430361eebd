package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

func TestSealAndOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	rand.Read(key)
	rand.Read(nonce)

	plaintext := []byte("wrapped file key material")
	aad := []byte("chunk-0")

	ciphertext, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(ciphertext) != len(plaintext)+16 {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+16)
	}

	decrypted, err := Open(key, nonce, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("decrypted plaintext does not match original")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	rand.Read(key)
	rand.Read(nonce)

	ciphertext, err := Seal(key, nonce, nil, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ciphertext[0] ^= 0x01

	if _, err := Open(key, nonce, nil, ciphertext); err == nil {
		t.Fatal("expected Open to reject tampered ciphertext")
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	rand.Read(key)
	rand.Read(nonce)

	ciphertext, err := Seal(key, nonce, []byte("chunk-0"), []byte("message"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(key, nonce, []byte("chunk-1"), ciphertext); err == nil {
		t.Fatal("expected Open to reject mismatched AAD")
	}
}

func TestWrapUnwrapFileKeyRoundTrip(t *testing.T) {
	masterKey := make([]byte, 32)
	fileKey := make([]byte, 32)
	rand.Read(masterKey)
	rand.Read(fileKey)

	wrapped, err := WrapFileKey(masterKey, fileKey)
	if err != nil {
		t.Fatalf("WrapFileKey: %v", err)
	}

	unwrapped, err := UnwrapFileKey(masterKey, wrapped)
	if err != nil {
		t.Fatalf("UnwrapFileKey: %v", err)
	}
	if !bytes.Equal(unwrapped, fileKey) {
		t.Fatal("unwrapped file key does not match original")
	}
}

func TestUnwrapFileKeyWrongMasterKeyFailsClosed(t *testing.T) {
	masterKey := make([]byte, 32)
	wrongKey := make([]byte, 32)
	fileKey := make([]byte, 32)
	rand.Read(masterKey)
	rand.Read(wrongKey)
	rand.Read(fileKey)

	wrapped, err := WrapFileKey(masterKey, fileKey)
	if err != nil {
		t.Fatalf("WrapFileKey: %v", err)
	}

	_, err = UnwrapFileKey(wrongKey, wrapped)
	if err == nil {
		t.Fatal("expected UnwrapFileKey to fail with wrong master key")
	}
	if tcfserrors.KindOf(err) != tcfserrors.KindIntegrity {
		t.Fatalf("error kind = %v, want Integrity", tcfserrors.KindOf(err))
	}
}

func TestSaveLoadKeyWithPassphrase(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tmpDir := t.TempDir()
	keystorePath := filepath.Join(tmpDir, "identity.key")
	passphrase := "test-passphrase-123"

	if err := SaveKey(priv, keystorePath, passphrase); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	loaded, err := LoadKey(keystorePath, passphrase)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if !bytes.Equal(loaded, priv) {
		t.Fatal("loaded key does not match original")
	}

	if _, err := LoadKey(keystorePath, "wrong-passphrase"); err == nil {
		t.Fatal("expected LoadKey to fail with wrong passphrase")
	}
}

func TestSaveLoadKeyWithoutPassphrase(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tmpDir := t.TempDir()
	keystorePath := filepath.Join(tmpDir, "identity.key")

	if err := SaveKey(priv, keystorePath, ""); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	insecurePath := keystorePath + ".insecure"
	if _, err := os.Stat(insecurePath); os.IsNotExist(err) {
		t.Fatal("insecure keystore file was not created")
	}

	loaded, err := LoadKey(insecurePath, "")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if !bytes.Equal(loaded, priv) {
		t.Fatal("loaded key does not match original")
	}
}

func TestComputeFingerprintStable(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	f1 := ComputeFingerprint(pub)
	f2 := ComputeFingerprint(pub)
	if f1 != f2 {
		t.Fatal("fingerprint is not stable across calls")
	}
}
