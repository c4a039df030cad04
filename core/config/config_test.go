package config

import (
	"encoding/base64"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemap-dev/cuemap/core/engine"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8900" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Engine.ShardCount != engine.DefaultShardCount {
		t.Errorf("shards = %d", cfg.Engine.ShardCount)
	}
	if cfg.SnapshotInterval.Std() != 60*time.Second {
		t.Errorf("snapshot interval = %v", cfg.SnapshotInterval)
	}
}

func TestLoad(t *testing.T) {
	t.Run("missing file keeps defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.Addr != ":8900" {
			t.Errorf("addr = %s", cfg.Server.Addr)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cuemap.yaml")
		raw := `
server:
  addr: ":9100"
  api_key: sekrit
data_dir: /tmp/cm
engine:
  half_life_positions: 64
  fast_depth: 512
jobs:
  queue_capacity: 50
  session_idle: 250ms
snapshot_interval: 2m
`
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Server.Addr != ":9100" || cfg.Server.APIKey != "sekrit" {
			t.Errorf("server = %+v", cfg.Server)
		}
		if cfg.Engine.HalfLifePositions != 64 || cfg.Engine.FastDepth != 512 {
			t.Errorf("engine = %+v", cfg.Engine)
		}
		if cfg.Jobs.SessionIdle.Std() != 250*time.Millisecond {
			t.Errorf("session idle = %v", cfg.Jobs.SessionIdle)
		}
		if cfg.SnapshotInterval.Std() != 2*time.Minute {
			t.Errorf("snapshot interval = %v", cfg.SnapshotInterval)
		}
		if got := cfg.SnapshotsDir(); got != filepath.Join("/tmp/cm", "snapshots") {
			t.Errorf("snapshots dir = %s", got)
		}
		// Untouched keys keep their defaults.
		if cfg.Engine.ShardCount != engine.DefaultShardCount {
			t.Errorf("shards = %d", cfg.Engine.ShardCount)
		}
	})

	t.Run("malformed file errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("server: [not a map"), 0o644)
		if _, err := Load(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestEngineOptions(t *testing.T) {
	t.Run("seal key", func(t *testing.T) {
		cfg := Default()
		key := bytes.Repeat([]byte{7}, 32)
		cfg.Engine.SealKeyBase64 = base64.StdEncoding.EncodeToString(key)
		opts, err := cfg.EngineOptions()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(opts.SealKey, key) {
			t.Error("seal key not decoded")
		}
	})

	t.Run("bad seal key length", func(t *testing.T) {
		cfg := Default()
		cfg.Engine.SealKeyBase64 = base64.StdEncoding.EncodeToString([]byte("short"))
		if _, err := cfg.EngineOptions(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("episode window converts to seconds", func(t *testing.T) {
		cfg := Default()
		cfg.Engine.EpisodeWindow = Duration(10 * time.Minute)
		opts, err := cfg.EngineOptions()
		if err != nil {
			t.Fatal(err)
		}
		if opts.EpisodeWindow != 600 {
			t.Errorf("window = %f", opts.EpisodeWindow)
		}
	})
}
