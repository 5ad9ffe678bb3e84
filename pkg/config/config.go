// Runtime tunables for the VFS engine and its caches. Values are loadable
// from a YAML file so a mount can be tuned without rebuilding.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every knob with a working default; the zero value is not
// meaningful, use Default.
type Config struct {
	// FlushInterval is the write-back flusher period.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// DeferredFlushDelay is the pause before a callback-triggered flush
	// runs, long enough for the caller to release its locks.
	DeferredFlushDelay time.Duration `yaml:"deferred_flush_delay"`

	// CacheBlocks bounds the block cache entry count.
	CacheBlocks int `yaml:"cache_blocks"`

	// SmallFileLimit is the largest file size kept inline in the inode
	// cache.
	SmallFileLimit uint64 `yaml:"small_file_limit"`

	// WritebackHighWater is the resident write-back byte count above which
	// writes flush synchronously.
	WritebackHighWater int64 `yaml:"writeback_high_water"`

	// FlushRetries bounds flush attempts before the engine latches itself
	// read-only.
	FlushRetries int `yaml:"flush_retries"`

	// FlushRetryBackoff is the initial backoff, doubled per retry.
	FlushRetryBackoff time.Duration `yaml:"flush_retry_backoff"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		FlushInterval:      5 * time.Second,
		DeferredFlushDelay: 10 * time.Millisecond,
		CacheBlocks:        1024,
		SmallFileLimit:     4096,
		WritebackHighWater: 64 << 20,
		FlushRetries:       3,
		FlushRetryBackoff:  50 * time.Millisecond,
	}
}

// fileConfig is the YAML schema; durations are written as strings like
// "5s" or "10ms".
type fileConfig struct {
	FlushInterval      string  `yaml:"flush_interval"`
	DeferredFlushDelay string  `yaml:"deferred_flush_delay"`
	CacheBlocks        *int    `yaml:"cache_blocks"`
	SmallFileLimit     *uint64 `yaml:"small_file_limit"`
	WritebackHighWater *int64  `yaml:"writeback_high_water"`
	FlushRetries       *int    `yaml:"flush_retries"`
	FlushRetryBackoff  string  `yaml:"flush_retry_backoff"`
}

// Load reads a YAML file over the defaults; absent keys keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	setDuration := func(dst *time.Duration, src, key string) error {
		if src == "" {
			return nil
		}
		d, err := time.ParseDuration(src)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := setDuration(&cfg.FlushInterval, fc.FlushInterval, "flush_interval"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.DeferredFlushDelay, fc.DeferredFlushDelay, "deferred_flush_delay"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.FlushRetryBackoff, fc.FlushRetryBackoff, "flush_retry_backoff"); err != nil {
		return cfg, err
	}
	if fc.CacheBlocks != nil {
		cfg.CacheBlocks = *fc.CacheBlocks
	}
	if fc.SmallFileLimit != nil {
		cfg.SmallFileLimit = *fc.SmallFileLimit
	}
	if fc.WritebackHighWater != nil {
		cfg.WritebackHighWater = *fc.WritebackHighWater
	}
	if fc.FlushRetries != nil {
		cfg.FlushRetries = *fc.FlushRetries
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if c.CacheBlocks <= 0 {
		return fmt.Errorf("cache_blocks must be positive")
	}
	if c.FlushRetries < 1 {
		return fmt.Errorf("flush_retries must be at least 1")
	}
	if c.WritebackHighWater <= 0 {
		return fmt.Errorf("writeback_high_water must be positive")
	}
	return nil
}
