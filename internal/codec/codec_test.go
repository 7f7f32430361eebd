package codec

import (
	"bytes"
	"crypto/rand"
	"testing"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

func randKey(t *testing.T) *FileKey {
	t.Helper()
	var k FileKey
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return &k
}

func TestRoundTripNoEncryptionNoCompression(t *testing.T) {
	c, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	plaintext := []byte("hello, tcfs")
	blob, frame, err := c.Encode(plaintext, nil, []byte("filehash"), 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame.Compressed || frame.Encrypted {
		t.Fatalf("frame = %+v, want both false", frame)
	}

	out, err := c.Decode(blob, frame, nil, []byte("filehash"), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", out, plaintext)
	}
}

func TestRoundTripCompressionOnly(t *testing.T) {
	c, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	plaintext := bytes.Repeat([]byte("abcdefgh"), 2048) // highly compressible
	blob, frame, err := c.Encode(plaintext, nil, []byte("fh"), 3)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !frame.Compressed {
		t.Fatal("expected compression to engage on highly redundant data")
	}
	if len(blob) >= len(plaintext) {
		t.Fatalf("compressed blob (%d) not smaller than plaintext (%d)", len(blob), len(plaintext))
	}

	out, err := c.Decode(blob, frame, nil, []byte("fh"), 3)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatal("round trip mismatch after compression")
	}
}

func TestIncompressibleDataFallsBackToRaw(t *testing.T) {
	c, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	plaintext := make([]byte, 4096)
	rand.Read(plaintext)

	blob, frame, err := c.Encode(plaintext, nil, []byte("fh"), 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame.Compressed {
		t.Fatal("random data should not have been claimed as compressed when it doesn't shrink")
	}
	if !bytes.Equal(blob, plaintext) {
		t.Fatal("raw fallback must return plaintext unchanged")
	}
}

func TestRoundTripEncryptionAndCompression(t *testing.T) {
	c, err := New(true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	key := randKey(t)
	fileHash := []byte("the-file-hash")
	plaintext := bytes.Repeat([]byte("chunk body "), 512)

	blob, frame, err := c.Encode(plaintext, key, fileHash, 7)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !frame.Encrypted {
		t.Fatal("expected Encrypted frame flag")
	}

	out, err := c.Decode(blob, frame, key, fileHash, 7)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestDecodeWrongKeyFailsClosed(t *testing.T) {
	c, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	key := randKey(t)
	wrongKey := randKey(t)
	plaintext := []byte("secret chunk contents")

	blob, frame, err := c.Encode(plaintext, key, []byte("fh"), 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = c.Decode(blob, frame, wrongKey, []byte("fh"), 1)
	if err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
	if tcfserrors.KindOf(err) != tcfserrors.KindIntegrity {
		t.Fatalf("error kind = %v, want Integrity", tcfserrors.KindOf(err))
	}
}

func TestDecodeWrongAADFailsClosed(t *testing.T) {
	c, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	key := randKey(t)
	plaintext := []byte("secret chunk contents")

	blob, frame, err := c.Encode(plaintext, key, []byte("file-a"), 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Same key, different chunk index: AAD mismatch must fail closed,
	// preventing chunk substitution across positions (spec section 4.2).
	_, err = c.Decode(blob, frame, key, []byte("file-a"), 2)
	if err == nil {
		t.Fatal("expected AAD mismatch (wrong chunk index) to fail")
	}

	// Same key and index, different file hash: also must fail.
	_, err = c.Decode(blob, frame, key, []byte("file-b"), 1)
	if err == nil {
		t.Fatal("expected AAD mismatch (wrong file hash) to fail")
	}
}

func TestDecodeTamperedCiphertextFailsClosed(t *testing.T) {
	c, err := New(false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	key := randKey(t)
	blob, frame, err := c.Encode([]byte("payload"), key, []byte("fh"), 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	blob[len(blob)-1] ^= 0xFF

	if _, err := c.Decode(blob, frame, key, []byte("fh"), 0); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}
