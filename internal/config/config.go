// Package config loads daemon configuration from a YAML file (spec
// section 6: "recognized options, effect"), falling back to
// documented defaults for anything unset.
package config

import (
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v2"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

// ChunkConfig controls the chunker's size bounds (spec section 4.1).
// Changing these breaks deduplication against data chunked under the
// old bounds.
type ChunkConfig struct {
	Min int `yaml:"min"`
	Avg int `yaml:"avg"`
	Max int `yaml:"max"`
}

// CodecConfig toggles the codec's compression and encryption stages
// (spec section 4.2).
type CodecConfig struct {
	Compression bool `yaml:"compression"`
	Encryption  bool `yaml:"encryption"`
}

// SyncConfig controls fleet-facing sync behavior (spec section 6).
type SyncConfig struct {
	StateBackend    string   `yaml:"state_backend"`   // "json" | "embedded-kv"
	ConflictMode    string   `yaml:"conflict_mode"`   // "auto" | "interactive" | "defer"
	SyncGitDirs     bool     `yaml:"sync_git_dirs"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// FleetConfig points at the durable event stream backing the fleet
// coordinator (spec section 4.6).
type FleetConfig struct {
	EventStreamURL string `yaml:"event_stream_url"`
	RetentionDays  int    `yaml:"retention_days"`
}

// StorageConfig addresses the remote object store (spec section 4.3).
type StorageConfig struct {
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
}

// Config holds daemon configuration (spec section 6).
type Config struct {
	KeysDirectory string        `yaml:"keys_directory"`
	Chunk         ChunkConfig   `yaml:"chunk"`
	Codec         CodecConfig   `yaml:"codec"`
	Sync          SyncConfig    `yaml:"sync"`
	Fleet         FleetConfig   `yaml:"fleet"`
	Storage       StorageConfig `yaml:"storage"`
}

// DefaultConfig returns the documented defaults: FastCDC 2/8/16 KiB
// bounds, compression on, encryption off, auto conflict resolution,
// JSON state backend, 7-day event retention.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	keysDir := filepath.Join(homeDir, ".local", "share", "tcfs", "keys")

	return &Config{
		KeysDirectory: keysDir,
		Chunk:         ChunkConfig{Min: 2 * 1024, Avg: 8 * 1024, Max: 16 * 1024},
		Codec:         CodecConfig{Compression: true, Encryption: false},
		Sync: SyncConfig{
			StateBackend: "json",
			ConflictMode: "auto",
			SyncGitDirs:  false,
		},
		Fleet: FleetConfig{RetentionDays: 7},
		Storage: StorageConfig{
			Prefix: "tcfs",
		},
	}
}

// LoadConfig reads and parses a YAML config file at path, applying
// DefaultConfig first so an omitted section keeps its default value.
// A missing file is not an error: a fresh deployment runs on defaults
// until storage.endpoint/bucket are supplied via flags or env.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "read config file", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, tcfserrors.Wrap(tcfserrors.KindConfig, "parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would be fatal at startup
// (spec section 7: Config errors are "fatal at startup").
func (c *Config) Validate() error {
	if c.Chunk.Min <= 0 || c.Chunk.Avg <= c.Chunk.Min || c.Chunk.Max <= c.Chunk.Avg {
		return tcfserrors.New(tcfserrors.KindConfig, "chunk.min < chunk.avg < chunk.max must hold")
	}
	switch c.Sync.StateBackend {
	case "json", "embedded-kv":
	default:
		return tcfserrors.New(tcfserrors.KindConfig, "sync.state_backend must be json or embedded-kv, got "+c.Sync.StateBackend)
	}
	switch c.Sync.ConflictMode {
	case "auto", "interactive", "defer":
	default:
		return tcfserrors.New(tcfserrors.KindConfig, "sync.conflict_mode must be auto, interactive, or defer, got "+c.Sync.ConflictMode)
	}
	return nil
}
