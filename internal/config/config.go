// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"time"

	"firestige.xyz/defrag/internal/core"
)

// Config is the top-level static configuration, mapped from the
// top-level `engine:`, `log:` and `metrics:` keys in YAML.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// EngineConfig contains the reassembly engine limits and timers.
type EngineConfig struct {
	// HighWatermarkBytes triggers eviction when fragment memory exceeds it.
	HighWatermarkBytes int64 `mapstructure:"high_watermark_bytes"`
	// LowWatermarkBytes is the eviction target; must be below high.
	LowWatermarkBytes int64 `mapstructure:"low_watermark_bytes"`
	// FragTTL is the per-queue reassembly deadline.
	FragTTL time.Duration `mapstructure:"frag_ttl"`
	// RekeyInterval is the period of the hash seed rotation.
	RekeyInterval time.Duration `mapstructure:"rekey_interval"`
	// BucketCount is the hash table size; must be a power of two.
	BucketCount int `mapstructure:"bucket_count"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string         `mapstructure:"level"`  // trace|debug|info|warn|error
	Format  string         `mapstructure:"format"` // text|json
	Outputs []OutputConfig `mapstructure:"outputs"`
}

// OutputConfig describes one log destination.
type OutputConfig struct {
	Type       string `mapstructure:"type"` // console|file
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// Default engine limits, matching the classic ipfrag sysctl values.
const (
	DefaultHighWatermarkBytes = 256 * 1024
	DefaultLowWatermarkBytes  = 192 * 1024
	DefaultFragTTL            = 30 * time.Second
	DefaultRekeyInterval      = 10 * time.Minute
	DefaultBucketCount        = 64
)

// Validate checks cross-field constraints after unmarshalling.
func (c *Config) Validate() error {
	e := &c.Engine
	if e.HighWatermarkBytes <= 0 || e.LowWatermarkBytes <= 0 {
		return fmt.Errorf("%w: watermarks must be positive", core.ErrConfigInvalid)
	}
	if e.LowWatermarkBytes >= e.HighWatermarkBytes {
		return fmt.Errorf("%w: low_watermark_bytes (%d) must be below high_watermark_bytes (%d)",
			core.ErrConfigInvalid, e.LowWatermarkBytes, e.HighWatermarkBytes)
	}
	if e.FragTTL <= 0 {
		return fmt.Errorf("%w: frag_ttl must be positive", core.ErrConfigInvalid)
	}
	if e.RekeyInterval <= 0 {
		return fmt.Errorf("%w: rekey_interval must be positive", core.ErrConfigInvalid)
	}
	if e.BucketCount <= 0 || e.BucketCount&(e.BucketCount-1) != 0 {
		return fmt.Errorf("%w: bucket_count (%d) must be a power of two",
			core.ErrConfigInvalid, e.BucketCount)
	}
	return nil
}
