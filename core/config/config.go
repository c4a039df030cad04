// Package config loads the daemon configuration: YAML file when present,
// defaults otherwise, flag overrides applied by the CLI.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemap-dev/cuemap/core/blob"
	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/jobs"
)

// Duration wraps time.Duration so YAML accepts "250ms" / "2m" strings.
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	DataDir  string       `yaml:"data_dir"`
	Engine   EngineConfig `yaml:"engine"`
	Jobs     JobsConfig   `yaml:"jobs"`
	Ingest   IngestConfig `yaml:"ingest"`
	LogLevel string       `yaml:"log_level"`

	SnapshotInterval    Duration `yaml:"snapshot_interval"`
	ConsolidateInterval Duration `yaml:"consolidate_interval"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	APIKey   string `yaml:"api_key"`
	ReadOnly bool   `yaml:"read_only"`
}

type EngineConfig struct {
	ShardCount        int     `yaml:"shard_count"`
	HalfLifePositions float64 `yaml:"half_life_positions"`
	RecencyAlpha      float64 `yaml:"recency_alpha"`
	FrequencyBeta     float64 `yaml:"frequency_beta"`
	FastDepth         int     `yaml:"fast_depth"`
	CoOccurrenceTopK  int     `yaml:"cooccurrence_topk"`
	CoOccurrenceMin   uint64  `yaml:"cooccurrence_min"`
	EpisodeJaccard    float64 `yaml:"episode_jaccard"`
	EpisodeWindow     Duration `yaml:"episode_window"`

	// SealKeyBase64 enables content encryption at rest. Must decode to
	// exactly blob.KeySize bytes.
	SealKeyBase64 string `yaml:"seal_key_base64"`
}

type JobsConfig struct {
	QueueCapacity int      `yaml:"queue_capacity"`
	SessionIdle   Duration `yaml:"session_idle"`
}

type IngestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Tenant  string `yaml:"tenant"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8900"},
		DataDir: "./data",
		Engine: EngineConfig{
			ShardCount:        engine.DefaultShardCount,
			HalfLifePositions: engine.DefaultHalfLifePositions,
			RecencyAlpha:      engine.DefaultRecencyAlpha,
			FrequencyBeta:     engine.DefaultFrequencyBeta,
			FastDepth:         engine.DefaultFastDepth,
			CoOccurrenceTopK:  engine.DefaultCoOccurrenceTopK,
			CoOccurrenceMin:   engine.DefaultCoOccurrenceMin,
			EpisodeJaccard:    engine.DefaultEpisodeJaccard,
			EpisodeWindow:     Duration(engine.DefaultEpisodeWindow * float64(time.Second)),
		},
		Jobs: JobsConfig{
			QueueCapacity: jobs.DefaultQueueCapacity,
			SessionIdle:   Duration(jobs.DefaultSessionIdle),
		},
		LogLevel:            "info",
		SnapshotInterval:    Duration(60 * time.Second),
		ConsolidateInterval: Duration(24 * time.Hour),
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SnapshotsDir returns the directory holding the per-tenant snapshot
// triplets.
func (c Config) SnapshotsDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// EngineOptions converts the engine section into engine.Options.
func (c Config) EngineOptions() (engine.Options, error) {
	opts := engine.DefaultOptions()
	if c.Engine.ShardCount > 0 {
		opts.ShardCount = c.Engine.ShardCount
	}
	if c.Engine.HalfLifePositions > 0 {
		opts.HalfLifePositions = c.Engine.HalfLifePositions
	}
	if c.Engine.RecencyAlpha > 0 {
		opts.RecencyAlpha = c.Engine.RecencyAlpha
	}
	if c.Engine.FrequencyBeta > 0 {
		opts.FrequencyBeta = c.Engine.FrequencyBeta
	}
	if c.Engine.FastDepth > 0 {
		opts.FastDepth = c.Engine.FastDepth
	}
	if c.Engine.CoOccurrenceTopK > 0 {
		opts.CoOccurrenceTopK = c.Engine.CoOccurrenceTopK
	}
	if c.Engine.CoOccurrenceMin > 0 {
		opts.CoOccurrenceMin = c.Engine.CoOccurrenceMin
	}
	if c.Engine.EpisodeJaccard > 0 {
		opts.EpisodeJaccard = c.Engine.EpisodeJaccard
	}
	if c.Engine.EpisodeWindow > 0 {
		opts.EpisodeWindow = c.Engine.EpisodeWindow.Std().Seconds()
	}
	if c.Engine.SealKeyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(c.Engine.SealKeyBase64)
		if err != nil {
			return opts, fmt.Errorf("config: seal key: %w", err)
		}
		if len(key) != blob.KeySize {
			return opts, fmt.Errorf("config: seal key must be %d bytes, got %d", blob.KeySize, len(key))
		}
		opts.SealKey = key
	}
	return opts, nil
}

// JobsOptions converts the jobs section into jobs.Config.
func (c Config) JobsOptions() jobs.Config {
	return jobs.Config{
		QueueCapacity: c.Jobs.QueueCapacity,
		SessionIdle:   c.Jobs.SessionIdle.Std(),
	}
}
