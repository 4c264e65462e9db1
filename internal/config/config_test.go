package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Distributed.MaxWorkers)
	assert.Equal(t, BalanceRoundRobin, cfg.Distributed.LoadBalancing)
	assert.True(t, cfg.Compilation.IncrementalEnabled)
	assert.False(t, cfg.Caching.RedisEnabled)
	assert.True(t, cfg.Memory.PoolingEnabled)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := DefaultConfig()
	original.Name = "custom"
	original.Distributed.MaxWorkers = 8
	original.Distributed.TaskTimeout = "45s"
	original.Caching.MaxMemoryCache = 1 << 20
	require.NoError(t, original.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(original, loaded); diff != "" {
		t.Errorf("config round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("missing file should yield defaults (-want +got):\n%s", diff)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := []byte("distributed:\n  max_workers: 12\n")
	require.NoError(t, os.WriteFile(path, partial, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Distributed.MaxWorkers)
	assert.Equal(t, "30s", cfg.Distributed.TaskTimeout, "unset keys keep defaults")
	assert.True(t, cfg.Memory.PoolingEnabled)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{nope"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GENFORGE_REDIS_URL", "redis://cache.internal:6379")
	t.Setenv("GENFORGE_CACHE_DIR", "/tmp/gf-cache")
	t.Setenv("GENFORGE_MAX_WORKERS", "16")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Caching.RedisEnabled, "setting a redis url enables the tier")
	assert.Equal(t, "redis://cache.internal:6379", cfg.Caching.RedisURL)
	assert.Equal(t, "/tmp/gf-cache", cfg.Compilation.CacheDirectory)
	assert.Equal(t, 16, cfg.Distributed.MaxWorkers)
}

func TestEnvOverrideIgnoresGarbageWorkerCount(t *testing.T) {
	t.Setenv("GENFORGE_MAX_WORKERS", "many")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Distributed.MaxWorkers)
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.GetTaskTimeout())
	assert.Equal(t, time.Hour, cfg.GetCacheTTL())
	assert.Equal(t, 30*time.Second, cfg.GetMonitoringInterval())

	cfg.Distributed.TaskTimeout = "2m"
	assert.Equal(t, 2*time.Minute, cfg.GetTaskTimeout())

	// Garbage and non-positive values fall back.
	cfg.Distributed.TaskTimeout = "soon"
	assert.Equal(t, 30*time.Second, cfg.GetTaskTimeout())
	cfg.Caching.TTL = "-5s"
	assert.Equal(t, time.Hour, cfg.GetCacheTTL())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.Distributed.MaxWorkers = 0 }, true},
		{"negative workers", func(c *Config) { c.Distributed.MaxWorkers = -1 }, true},
		{"unknown policy", func(c *Config) { c.Distributed.LoadBalancing = "fastest" }, true},
		{"least-loaded ok", func(c *Config) { c.Distributed.LoadBalancing = BalanceLeastLoaded }, false},
		{"random ok", func(c *Config) { c.Distributed.LoadBalancing = BalanceRandom }, false},
		{"bad timeout", func(c *Config) { c.Distributed.TaskTimeout = "forever" }, true},
		{"zero cache bound", func(c *Config) { c.Caching.MaxMemoryCache = 0 }, true},
		{"redis enabled without url", func(c *Config) {
			c.Caching.RedisEnabled = true
			c.Caching.RedisURL = ""
		}, true},
		{"threshold zero", func(c *Config) { c.Memory.MemoryPressureThreshold = 0 }, true},
		{"threshold above one", func(c *Config) { c.Memory.MemoryPressureThreshold = 1.5 }, true},
		{"pooling without size", func(c *Config) {
			c.Memory.PoolingEnabled = true
			c.Memory.PoolSize = 0
		}, true},
		{"pooling disabled ignores size", func(c *Config) {
			c.Memory.PoolingEnabled = false
			c.Memory.PoolSize = 0
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
