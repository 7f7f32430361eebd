package config

import (
	"os"
	"path/filepath"
	"testing"

	tcfserrors "github.com/tcfs-dev/tcfs/internal/errors"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Chunk != def.Chunk {
		t.Fatalf("chunk config = %+v, want defaults %+v", cfg.Chunk, def.Chunk)
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tcfs.yaml")
	content := `
chunk:
  min: 4096
  avg: 16384
  max: 32768
codec:
  compression: false
  encryption: true
sync:
  state_backend: embedded-kv
  conflict_mode: interactive
storage:
  prefix: myfleet
  bucket: my-bucket
  endpoint: https://s3.example.com
  region: us-east-1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Chunk.Min != 4096 || cfg.Chunk.Avg != 16384 || cfg.Chunk.Max != 32768 {
		t.Fatalf("chunk config = %+v", cfg.Chunk)
	}
	if cfg.Codec.Compression || !cfg.Codec.Encryption {
		t.Fatalf("codec config = %+v", cfg.Codec)
	}
	if cfg.Sync.StateBackend != "embedded-kv" || cfg.Sync.ConflictMode != "interactive" {
		t.Fatalf("sync config = %+v", cfg.Sync)
	}
	if cfg.Storage.Bucket != "my-bucket" || cfg.Storage.Prefix != "myfleet" {
		t.Fatalf("storage config = %+v", cfg.Storage)
	}
}

func TestValidateRejectsBadChunkBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chunk.Max = cfg.Chunk.Min
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject max <= min")
	} else if tcfserrors.KindOf(err) != tcfserrors.KindConfig {
		t.Fatalf("error kind = %v, want Config", tcfserrors.KindOf(err))
	}
}

func TestValidateRejectsUnknownConflictMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.ConflictMode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject unknown conflict_mode")
	}
}

func TestValidateRejectsUnknownStateBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.StateBackend = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject unknown state_backend")
	}
}
