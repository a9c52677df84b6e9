// Package config loads and validates the httpmount configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Streaming defaults. Chunk and cache sizes are expressed in MiB in the
// config file; the derived byte values are exposed through helper methods.
const (
	DefaultChunkSizeMB         = 2
	DefaultCacheCapMB          = 200
	DefaultPrefetchWindowMB    = 100
	DefaultPrefetchBatchSize   = 8
	DefaultOpenWarmupMB        = 10
	DefaultFetchTimeoutSeconds = 60
)

// Origin session defaults.
const (
	DefaultIdleSessionTimeoutSeconds = 300
	DefaultSessionSweepPeriodSeconds = 60
)

// FileEntry is one static filename -> URL registration. Entries are a
// list rather than a map so filenames keep their case and dots.
type FileEntry struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Config is the root configuration for httpmount.
type Config struct {
	MountPath string      `mapstructure:"mount_path"`
	Files     []FileEntry `mapstructure:"files"` // initial registrations

	Mount     MountConfig     `mapstructure:"mount"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Origin    OriginConfig    `mapstructure:"origin"`
	Control   ControlConfig   `mapstructure:"control"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

// MountConfig holds FUSE mount options.
type MountConfig struct {
	AllowOther          bool `mapstructure:"allow_other"`
	Debug               bool `mapstructure:"debug"`
	AttrTimeoutSeconds  int  `mapstructure:"attr_timeout_seconds"`
	EntryTimeoutSeconds int  `mapstructure:"entry_timeout_seconds"`
	MaxReadAheadMB      int  `mapstructure:"max_read_ahead_mb"`
}

// StreamingConfig holds the chunk cache and prefetch settings.
type StreamingConfig struct {
	ChunkSizeMB         int `mapstructure:"chunk_size_mb"`
	CacheCapMB          int `mapstructure:"cache_cap_mb"`
	PrefetchWindowMB    int `mapstructure:"prefetch_window_mb"`
	PrefetchBatchSize   int `mapstructure:"prefetch_batch_size"`
	OpenWarmupMB        int `mapstructure:"open_warmup_mb"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
}

// OriginConfig holds HTTP session pool settings.
type OriginConfig struct {
	IdleSessionTimeoutSeconds int `mapstructure:"idle_session_timeout_seconds"`
	SweepPeriodSeconds        int `mapstructure:"sweep_period_seconds"`
}

// ControlConfig holds the TCP control channel settings.
type ControlConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty means stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ChunkSize returns the chunk size in bytes.
func (s StreamingConfig) ChunkSize() int64 {
	return int64(s.ChunkSizeMB) * 1024 * 1024
}

// CacheCapBytes returns the total cache cap in bytes.
func (s StreamingConfig) CacheCapBytes() int64 {
	return int64(s.CacheCapMB) * 1024 * 1024
}

// CacheSlots returns the number of resident chunks the cache may hold.
func (s StreamingConfig) CacheSlots() int {
	return int(s.CacheCapBytes() / s.ChunkSize())
}

// PrefetchWindow returns the lookahead window in bytes.
func (s StreamingConfig) PrefetchWindow() int64 {
	return int64(s.PrefetchWindowMB) * 1024 * 1024
}

// OpenWarmupBytes returns the open-time warmup size in bytes.
func (s StreamingConfig) OpenWarmupBytes() int64 {
	return int64(s.OpenWarmupMB) * 1024 * 1024
}

// FetchTimeout returns the per-request fetch timeout.
func (s StreamingConfig) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSeconds) * time.Second
}

// IdleSessionTimeout returns the idle timeout for origin sessions.
func (o OriginConfig) IdleSessionTimeout() time.Duration {
	return time.Duration(o.IdleSessionTimeoutSeconds) * time.Second
}

// SweepPeriod returns the session sweeper period.
func (o OriginConfig) SweepPeriod() time.Duration {
	return time.Duration(o.SweepPeriodSeconds) * time.Second
}

// Load reads the configuration from the given file path (optional) plus
// HTTPMOUNT_* environment overrides and applies defaults. Callers
// validate after applying their own overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("httpmount")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("streaming.chunk_size_mb", DefaultChunkSizeMB)
	v.SetDefault("streaming.cache_cap_mb", DefaultCacheCapMB)
	v.SetDefault("streaming.prefetch_window_mb", DefaultPrefetchWindowMB)
	v.SetDefault("streaming.prefetch_batch_size", DefaultPrefetchBatchSize)
	v.SetDefault("streaming.open_warmup_mb", DefaultOpenWarmupMB)
	v.SetDefault("streaming.fetch_timeout_seconds", DefaultFetchTimeoutSeconds)
	v.SetDefault("origin.idle_session_timeout_seconds", DefaultIdleSessionTimeoutSeconds)
	v.SetDefault("origin.sweep_period_seconds", DefaultSessionSweepPeriodSeconds)
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen_addr", "localhost:9000")
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// ApplyDefaults fills zero values with the process defaults. Useful for
// configs constructed directly in code (tests, embedding).
func (c *Config) ApplyDefaults() {
	if c.Streaming.ChunkSizeMB <= 0 {
		c.Streaming.ChunkSizeMB = DefaultChunkSizeMB
	}
	if c.Streaming.CacheCapMB <= 0 {
		c.Streaming.CacheCapMB = DefaultCacheCapMB
	}
	if c.Streaming.PrefetchWindowMB <= 0 {
		c.Streaming.PrefetchWindowMB = DefaultPrefetchWindowMB
	}
	if c.Streaming.PrefetchBatchSize <= 0 {
		c.Streaming.PrefetchBatchSize = DefaultPrefetchBatchSize
	}
	if c.Streaming.OpenWarmupMB <= 0 {
		c.Streaming.OpenWarmupMB = DefaultOpenWarmupMB
	}
	if c.Streaming.FetchTimeoutSeconds <= 0 {
		c.Streaming.FetchTimeoutSeconds = DefaultFetchTimeoutSeconds
	}
	if c.Origin.IdleSessionTimeoutSeconds <= 0 {
		c.Origin.IdleSessionTimeoutSeconds = DefaultIdleSessionTimeoutSeconds
	}
	if c.Origin.SweepPeriodSeconds <= 0 {
		c.Origin.SweepPeriodSeconds = DefaultSessionSweepPeriodSeconds
	}
	if c.Control.ListenAddr == "" {
		c.Control.ListenAddr = "localhost:9000"
	}
	if c.API.Port <= 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.MountPath == "" {
		return fmt.Errorf("mount_path is required")
	}
	if c.Streaming.CacheCapMB < c.Streaming.ChunkSizeMB {
		return fmt.Errorf("streaming.cache_cap_mb (%d) must be at least one chunk (%d MB)",
			c.Streaming.CacheCapMB, c.Streaming.ChunkSizeMB)
	}
	if c.Streaming.CacheCapBytes()%c.Streaming.ChunkSize() != 0 {
		return fmt.Errorf("streaming.cache_cap_mb must be a multiple of streaming.chunk_size_mb")
	}
	for _, entry := range c.Files {
		if entry.Name == "" || entry.URL == "" {
			return fmt.Errorf("files entries must map a non-empty filename to a non-empty URL")
		}
		if strings.ContainsRune(entry.Name, '/') {
			return fmt.Errorf("files entry %q: filenames must not contain path separators", entry.Name)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
