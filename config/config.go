// Package config loads platform configuration from a yaml file with
// environment overrides (BOOKTAPE_ prefix) and validated defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"booktape/infra/logging"
	"booktape/replay"
)

type Config struct {
	// DataDir is the root of the per-scope event logs.
	DataDir string `mapstructure:"data_dir"`
	// StoreDir holds the pebble checkpoint/index database.
	StoreDir string `mapstructure:"store_dir"`

	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Replay     ReplayConfig     `mapstructure:"replay"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    logging.Config   `mapstructure:"logging"`
}

type CheckpointConfig struct {
	EveryEvents int           `mapstructure:"every_events"`
	EverySpan   time.Duration `mapstructure:"every_span"`
}

// Policy converts the cadence settings to the engine's policy.
func (c CheckpointConfig) Policy() replay.CheckpointPolicy {
	return replay.CheckpointPolicy{
		EveryEvents:     c.EveryEvents,
		EverySpanMicros: c.EverySpan.Microseconds(),
	}
}

type ReplayConfig struct {
	StrictOrdering    bool   `mapstructure:"strict_ordering"`
	PreSnapshotPolicy string `mapstructure:"pre_snapshot_policy"`
	SkipMalformed     bool   `mapstructure:"skip_malformed"`
	SnapshotDepth     int    `mapstructure:"snapshot_depth"`
}

// PreSnapshot parses the configured policy name.
func (c ReplayConfig) PreSnapshot() (replay.PreSnapshotPolicy, error) {
	switch strings.ToLower(c.PreSnapshotPolicy) {
	case "", "halt":
		return replay.Halt, nil
	case "buffer", "buffer_until_snapshot":
		return replay.BufferUntilSnapshot, nil
	default:
		return replay.Halt, fmt.Errorf("config: unknown pre_snapshot_policy %q", c.PreSnapshotPolicy)
	}
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	SourceTopic   string   `mapstructure:"source_topic"`
	MirrorTopic   string   `mapstructure:"mirror_topic"`
	AnnounceTopic string   `mapstructure:"announce_topic"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads cfg from path (optional) plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKTAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data/tape")
	v.SetDefault("store_dir", "./data/store")
	v.SetDefault("checkpoint.every_events", 10_000)
	v.SetDefault("checkpoint.every_span", time.Minute)
	v.SetDefault("replay.strict_ordering", true)
	v.SetDefault("replay.pre_snapshot_policy", "halt")
	v.SetDefault("replay.skip_malformed", false)
	v.SetDefault("replay.snapshot_depth", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.StoreDir == "" {
		return fmt.Errorf("config: store_dir is required")
	}
	if c.Checkpoint.EveryEvents < 0 || c.Checkpoint.EverySpan < 0 {
		return fmt.Errorf("config: checkpoint cadence must be non-negative")
	}
	if _, err := c.Replay.PreSnapshot(); err != nil {
		return err
	}
	return nil
}
