package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{
		MountPath: "/mnt/httpmount",
	}
	c.ApplyDefaults()
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errContains string
	}{
		{
			name:    "defaults - ok",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:        "missing mount path",
			mutate:      func(c *Config) { c.MountPath = "" },
			wantErr:     true,
			errContains: "mount_path",
		},
		{
			name: "cache smaller than chunk",
			mutate: func(c *Config) {
				c.Streaming.ChunkSizeMB = 8
				c.Streaming.CacheCapMB = 4
			},
			wantErr:     true,
			errContains: "cache_cap_mb",
		},
		{
			name: "cache not multiple of chunk",
			mutate: func(c *Config) {
				c.Streaming.ChunkSizeMB = 3
				c.Streaming.CacheCapMB = 200
			},
			wantErr:     true,
			errContains: "multiple",
		},
		{
			name: "file entry with path separator",
			mutate: func(c *Config) {
				c.Files = []FileEntry{{Name: "a/b.mkv", URL: "http://example.com/a"}}
			},
			wantErr:     true,
			errContains: "path separators",
		},
		{
			name: "file entry with empty url",
			mutate: func(c *Config) {
				c.Files = []FileEntry{{Name: "a.mkv"}}
			},
			wantErr:     true,
			errContains: "non-empty URL",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.Log.Level = "verbose" },
			wantErr:     true,
			errContains: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mount_path: /mnt/test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(2*1024*1024), cfg.Streaming.ChunkSize())
	assert.Equal(t, int64(200*1024*1024), cfg.Streaming.CacheCapBytes())
	assert.Equal(t, 100, cfg.Streaming.CacheSlots())
	assert.Equal(t, int64(100*1024*1024), cfg.Streaming.PrefetchWindow())
	assert.Equal(t, 8, cfg.Streaming.PrefetchBatchSize)
	assert.Equal(t, int64(10*1024*1024), cfg.Streaming.OpenWarmupBytes())
	assert.Equal(t, 300, cfg.Origin.IdleSessionTimeoutSeconds)
	assert.Equal(t, 60, cfg.Origin.SweepPeriodSeconds)
	assert.Equal(t, "localhost:9000", cfg.Control.ListenAddr)
	assert.True(t, cfg.Control.Enabled)
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mount_path: /mnt/media
streaming:
  chunk_size_mb: 4
  cache_cap_mb: 64
files:
  - name: "Movie.mkv"
    url: "https://origin.example.com/movie.mkv"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/media", cfg.MountPath)
	assert.Equal(t, 16, cfg.Streaming.CacheSlots())
	require.Len(t, cfg.Files, 1)
	assert.Equal(t, "Movie.mkv", cfg.Files[0].Name)
	assert.Equal(t, "https://origin.example.com/movie.mkv", cfg.Files[0].URL)
}
