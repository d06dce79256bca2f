package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the YAML configuration file at path, applies defaults, and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("DEFRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.high_watermark_bytes", DefaultHighWatermarkBytes)
	v.SetDefault("engine.low_watermark_bytes", DefaultLowWatermarkBytes)
	v.SetDefault("engine.frag_ttl", DefaultFragTTL)
	v.SetDefault("engine.rekey_interval", DefaultRekeyInterval)
	v.SetDefault("engine.bucket_count", DefaultBucketCount)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9091")
	v.SetDefault("metrics.path", "/metrics")
}
