// Package config holds the validated genforge configuration tree.
// All recognized options carry defaults; unknown YAML keys are ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load-balancing policies recognized by the task scheduler.
const (
	BalanceRoundRobin  = "round-robin"
	BalanceLeastLoaded = "least-loaded"
	BalanceRandom      = "random"
)

// Config holds all genforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Incremental compilation
	Compilation CompilationConfig `yaml:"compilation"`

	// Worker pool / distributed execution
	Distributed DistributedConfig `yaml:"distributed"`

	// Result caching (local + optional Redis tier)
	Caching CachingConfig `yaml:"caching"`

	// Object pooling and memory pressure
	Memory MemoryConfig `yaml:"memory"`

	// Resource monitoring
	Resources ResourcesConfig `yaml:"resources"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CompilationConfig configures checksum-based incremental compilation.
type CompilationConfig struct {
	// Skip regeneration when checksums match
	IncrementalEnabled bool `yaml:"incremental_enabled"`

	// Location of the persisted checksum file (checksums.json lives here)
	CacheDirectory string `yaml:"cache_directory"`
}

// DistributedConfig configures the worker pool.
type DistributedConfig struct {
	// Upper bound on execution units; actual count is
	// min(max_workers, available parallelism)
	MaxWorkers int `yaml:"max_workers"`

	// Per-worker memory ceiling in bytes (advisory, reported in stats)
	WorkerMemoryLimit int64 `yaml:"worker_memory_limit"`

	// How long a pending task may wait before the caller's request rejects
	TaskTimeout string `yaml:"task_timeout"`

	// round-robin | least-loaded | random
	LoadBalancing string `yaml:"load_balancing"`
}

// CachingConfig configures the two-tier result cache.
type CachingConfig struct {
	// Optional networked tier
	RedisEnabled bool   `yaml:"redis_enabled"`
	RedisURL     string `yaml:"redis_url"`

	// Default TTL for networked-tier entries
	TTL string `yaml:"ttl"`

	// Local tier size bound in bytes (sum of key + value lengths)
	MaxMemoryCache int64 `yaml:"max_memory_cache"`
}

// MemoryConfig configures object pooling and pressure response.
type MemoryConfig struct {
	PoolingEnabled bool `yaml:"pooling_enabled"`
	PoolSize       int  `yaml:"pool_size"`

	// Fraction of heap (used/total) that triggers cleanup
	MemoryPressureThreshold float64 `yaml:"memory_pressure_threshold"`

	// Request an explicit GC cycle when pressure triggers
	GCOptimization bool `yaml:"gc_optimization"`
}

// ResourcesConfig configures the resource monitor.
type ResourcesConfig struct {
	ResourceMonitoringInterval string `yaml:"resource_monitoring_interval"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "genforge",
		Version: "1.0.0",

		Compilation: CompilationConfig{
			IncrementalEnabled: true,
			CacheDirectory:     filepath.Join(".genforge", "cache"),
		},

		Distributed: DistributedConfig{
			MaxWorkers:        4,
			WorkerMemoryLimit: 512 * 1024 * 1024, // 512MB per worker
			TaskTimeout:       "30s",
			LoadBalancing:     BalanceRoundRobin,
		},

		Caching: CachingConfig{
			RedisEnabled:   false,
			RedisURL:       "redis://localhost:6379",
			TTL:            "1h",
			MaxMemoryCache: 100 * 1024 * 1024, // 100MB local tier
		},

		Memory: MemoryConfig{
			PoolingEnabled:          true,
			PoolSize:                100,
			MemoryPressureThreshold: 0.8,
			GCOptimization:          true,
		},

		Resources: ResourcesConfig{
			ResourceMonitoringInterval: "30s",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file returns defaults; env overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides overrides config values from environment variables.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("GENFORGE_REDIS_URL"); url != "" {
		c.Caching.RedisURL = url
		c.Caching.RedisEnabled = true
	}
	if dir := os.Getenv("GENFORGE_CACHE_DIR"); dir != "" {
		c.Compilation.CacheDirectory = dir
	}
	if v := os.Getenv("GENFORGE_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Distributed.MaxWorkers = n
		}
	}
}

// GetTaskTimeout returns the parsed task timeout, falling back to 30s.
func (c *Config) GetTaskTimeout() time.Duration {
	return parseDuration(c.Distributed.TaskTimeout, 30*time.Second)
}

// GetCacheTTL returns the parsed default cache TTL, falling back to 1h.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Caching.TTL, time.Hour)
}

// GetMonitoringInterval returns the parsed resource monitoring interval,
// falling back to 30s.
func (c *Config) GetMonitoringInterval() time.Duration {
	return parseDuration(c.Resources.ResourceMonitoringInterval, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Distributed.MaxWorkers <= 0 {
		return fmt.Errorf("distributed.max_workers must be positive, got %d", c.Distributed.MaxWorkers)
	}

	switch c.Distributed.LoadBalancing {
	case BalanceRoundRobin, BalanceLeastLoaded, BalanceRandom:
	default:
		return fmt.Errorf("distributed.load_balancing must be one of %s, %s, %s; got %q",
			BalanceRoundRobin, BalanceLeastLoaded, BalanceRandom, c.Distributed.LoadBalancing)
	}

	if c.Distributed.TaskTimeout != "" {
		if _, err := time.ParseDuration(c.Distributed.TaskTimeout); err != nil {
			return fmt.Errorf("distributed.task_timeout is not a valid duration: %w", err)
		}
	}

	if c.Caching.MaxMemoryCache <= 0 {
		return fmt.Errorf("caching.max_memory_cache must be positive, got %d", c.Caching.MaxMemoryCache)
	}

	if c.Caching.RedisEnabled && c.Caching.RedisURL == "" {
		return fmt.Errorf("caching.redis_url required when caching.redis_enabled is true")
	}

	if t := c.Memory.MemoryPressureThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("memory.memory_pressure_threshold must be in (0,1], got %v", t)
	}

	if c.Memory.PoolingEnabled && c.Memory.PoolSize <= 0 {
		return fmt.Errorf("memory.pool_size must be positive when pooling is enabled, got %d", c.Memory.PoolSize)
	}

	return nil
}
