// Package identity manages a device's persistent ed25519 keypair and
// its entry in the fleet-wide device registry (spec section 3, "Device
// identity").
package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tcfs-dev/tcfs/internal/cas"
	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// DefaultPaths returns the default private/public key paths under the
// user's home directory.
func DefaultPaths() (privPath, pubPath string, err error) {
	h, err := os.UserHomeDir()
	if err != nil {
		return "", "", tcfserrors.Wrap(tcfserrors.KindConfig, "resolve home directory", err)
	}
	dir := filepath.Join(h, ".tcfs")
	return filepath.Join(dir, "id_ed25519"), filepath.Join(dir, "id_ed25519.pub"), nil
}

// LoadOrCreate loads an ed25519 keypair from privPath/pubPath,
// generating and persisting a new one if absent. An empty privPath
// uses DefaultPaths; an empty pubPath defaults to privPath+".pub".
func LoadOrCreate(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if privPath == "" {
		p, u, err := DefaultPaths()
		if err != nil {
			return nil, nil, err
		}
		privPath, pubPath = p, u
	}
	if pubPath == "" {
		pubPath = privPath + ".pub"
	}

	priv, pub, err := load(privPath, pubPath)
	if err == nil {
		return priv, pub, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(privPath), 0o700); err != nil {
		return nil, nil, tcfserrors.Wrap(tcfserrors.KindIo, "create key directory", err)
	}
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, tcfserrors.Wrap(tcfserrors.KindIo, "generate ed25519 keypair", err)
	}
	if err := writeKeyFiles(privPath, pubPath, priv, pub); err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func load(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pbytes, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, err
	}
	ubytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, err
	}
	priv, err := decodeKey(pbytes)
	if err != nil {
		return nil, nil, tcfserrors.Wrap(tcfserrors.KindConfig, "decode private key", err)
	}
	pub, err := decodePub(ubytes)
	if err != nil {
		return nil, nil, tcfserrors.Wrap(tcfserrors.KindConfig, "decode public key", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, nil, tcfserrors.New(tcfserrors.KindConfig, "key file has wrong size for ed25519")
	}
	return priv, pub, nil
}

func writeKeyFiles(privPath, pubPath string, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	if err := os.WriteFile(privPath, encodeKey(priv), 0o600); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "write private key", err)
	}
	if err := os.WriteFile(pubPath, encodePub(pub), 0o644); err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "write public key", err)
	}
	return nil
}

func encodeKey(k ed25519.PrivateKey) []byte { return []byte(base64.StdEncoding.EncodeToString(k)) }
func encodePub(k ed25519.PublicKey) []byte  { return []byte(base64.StdEncoding.EncodeToString(k)) }

func decodeKey(b []byte) (ed25519.PrivateKey, error) {
	dec, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(b)))
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(dec), nil
}

func decodePub(b []byte) (ed25519.PublicKey, error) {
	dec, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(b)))
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(dec), nil
}

// Record is one entry in the device registry (spec section 3): a
// persistent record created by enrollment, mutated only to set
// Revoked, never deleted in-place.
type Record struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	PublicKey    []byte    `json:"public_key"`
	EnrolledAt   time.Time `json:"enrolled_at"`
	Revoked      bool      `json:"revoked"`
}

// Registry is the fleet-wide list of enrolled devices, persisted as a
// single blob at {prefix}/devices/registry (spec section 4.3).
type Registry struct {
	Devices []Record `json:"devices"`
}

// Enroll appends a new, non-revoked Record for the given name and
// public key, assigning it a fresh UUID device ID.
func (r *Registry) Enroll(name string, pub ed25519.PublicKey) Record {
	rec := Record{
		DeviceID:   uuid.NewString(),
		Name:       name,
		PublicKey:  append([]byte(nil), pub...),
		EnrolledAt: time.Now().UTC(),
	}
	r.Devices = append(r.Devices, rec)
	return rec
}

// Revoke sets the Revoked flag for deviceID. Records are never removed
// so that manifests authored before revocation remain attributable.
func (r *Registry) Revoke(deviceID string) error {
	for i := range r.Devices {
		if r.Devices[i].DeviceID == deviceID {
			r.Devices[i].Revoked = true
			return nil
		}
	}
	return tcfserrors.New(tcfserrors.KindNotFound, "device not found in registry: "+deviceID)
}

// Find returns the record for deviceID, if present.
func (r *Registry) Find(deviceID string) (Record, bool) {
	for _, d := range r.Devices {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return Record{}, false
}

// LoadRegistry fetches and parses the registry blob from store. A
// missing registry is treated as a fresh, empty one rather than an
// error, since the first enrollment in a fleet has nothing to load.
func LoadRegistry(ctx context.Context, store cas.Store, prefix string) (*Registry, error) {
	key := cas.DeviceRegistryKey(prefix)
	raw, err := store.Get(ctx, key)
	if err != nil {
		if tcfserrors.KindOf(err) == tcfserrors.KindNotFound {
			return &Registry{}, nil
		}
		return nil, err
	}
	var reg Registry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindIntegrity, "parse device registry", err)
	}
	sort.Slice(reg.Devices, func(i, j int) bool { return reg.Devices[i].DeviceID < reg.Devices[j].DeviceID })
	return &reg, nil
}

// SaveRegistry serializes and uploads the registry blob. The registry
// is a single mutable key, unlike chunks and manifests, since its
// identity is the fleet itself rather than its content.
func SaveRegistry(ctx context.Context, store cas.Store, prefix string, reg *Registry) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return tcfserrors.Wrap(tcfserrors.KindIo, "serialize device registry", err)
	}
	key := cas.DeviceRegistryKey(prefix)
	if err := store.Overwrite(ctx, key, raw); err != nil {
		return fmt.Errorf("save device registry: %w", err)
	}
	return nil
}
