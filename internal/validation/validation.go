// Package validation holds small input-validation helpers for sync
// root paths, storage endpoints, device names, and content hashes. No
// command or other package in this module imports it.
package validation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"os"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrInvalidAddr   = errors.New("invalid address")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrOutOfRange    = errors.New("value out of range")
	ErrInvalidHash   = errors.New("invalid content hash")
)

// ValidateFilePath rejects an empty path and, when mustExist is set,
// a path that doesn't resolve on disk.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateEndpoint checks that an S3-compatible endpoint is either a
// well-formed http(s) URL or a bare host:port TCP address.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return ErrInvalidAddr
	}
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", endpoint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

// ValidateStringNonEmpty rejects the empty string.
func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

// ValidateRangeInt rejects v outside [min, max].
func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateContentHash checks that s decodes as a hex string of the
// given byte length (32 for a BLAKE3-256 chunk or file hash).
func ValidateContentHash(s string, byteLen int) error {
	if len(s) != byteLen*2 {
		return fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidHash, byteLen*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return nil
}

// ValidateDeviceName rejects an empty or overlong device name (spec
// section on device enrollment: names are operator-supplied labels,
// not identifiers).
func ValidateDeviceName(name string) error {
	if name == "" {
		return ErrEmptyString
	}
	if len(name) > 128 {
		return fmt.Errorf("%w: device name exceeds 128 characters", ErrOutOfRange)
	}
	return nil
}
