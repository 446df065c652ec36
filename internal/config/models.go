package config

import "time"

// WorkspaceConfig is the root of a workspace's .forge/config.yaml: build
// parallelism, cache placement and sizing, remote cache wiring,
// distributed coordinator settings, and logging. The nested-section
// shape (each concern its own struct with its own mapstructure tags)
// mirrors the teacher's GlobalConfig/AnalyzerConfig/LLMConfig layering.
type WorkspaceConfig struct {
	Version     int               `mapstructure:"version" yaml:"version"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler" yaml:"scheduler"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Remote      RemoteConfig      `mapstructure:"remote" yaml:"remote"`
	Distributed DistributedConfig `mapstructure:"distributed" yaml:"distributed"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion is the current schema version for workspace
// config files.
const CurrentConfigVersion = 1

// SchedulerConfig controls worker pool sizing and retry behavior.
type SchedulerConfig struct {
	// Workers is the scheduler's worker goroutine count; 0 means "use
	// GOMAXPROCS".
	Workers           int `mapstructure:"workers" yaml:"workers"`
	MaxRetries        int `mapstructure:"max_retries" yaml:"max_retries"`
	InitialIntervalMs int `mapstructure:"initial_interval_ms" yaml:"initial_interval_ms"`
	MaxIntervalMs     int `mapstructure:"max_interval_ms" yaml:"max_interval_ms"`
}

// Retries returns the configured max retry count, defaulting to 3.
func (c SchedulerConfig) Retries() int {
	if c.MaxRetries == 0 {
		return 3
	}
	return c.MaxRetries
}

// InitialInterval returns the configured retry initial backoff,
// defaulting to the 200ms spec.md §4.10 default.
func (c SchedulerConfig) InitialInterval() time.Duration {
	if c.InitialIntervalMs == 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.InitialIntervalMs) * time.Millisecond
}

// MaxInterval returns the configured retry max backoff, defaulting to
// 2s.
func (c SchedulerConfig) MaxInterval() time.Duration {
	if c.MaxIntervalMs == 0 {
		return 2 * time.Second
	}
	return time.Duration(c.MaxIntervalMs) * time.Millisecond
}

// CacheConfig controls the local cache tiers' placement and size caps.
// A *Bytes field of 0 disables eviction for that tier (unbounded cache).
type CacheConfig struct {
	Root                string `mapstructure:"root" yaml:"root"`
	MaxTargetCacheBytes int64  `mapstructure:"max_target_cache_bytes" yaml:"max_target_cache_bytes"`
	MaxActionCacheBytes int64  `mapstructure:"max_action_cache_bytes" yaml:"max_action_cache_bytes"`
	MaxBlobStoreBytes   int64  `mapstructure:"max_blob_store_bytes" yaml:"max_blob_store_bytes"`
	// SignKeyHex is a 64-character hex-encoded BLAKE3 key used to sign
	// cachecore entries. Generated and persisted on first `forge build`
	// if empty.
	SignKeyHex string `mapstructure:"sign_key_hex" yaml:"sign_key_hex"`
}

// RootOrDefault returns the configured cache root, defaulting to ".forge/cache".
func (c CacheConfig) RootOrDefault() string {
	if c.Root == "" {
		return ".forge/cache"
	}
	return c.Root
}

// RemoteConfig controls the optional HTTP remote cache.
type RemoteConfig struct {
	Enabled                 bool    `mapstructure:"enabled" yaml:"enabled"`
	BaseURL                 string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimitPerSecond      float64 `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst          int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	CircuitBreakerThreshold int     `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
}

// DistributedConfig controls the optional cluster coordinator.
type DistributedConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// LoggingConfig mirrors the teacher's LoggingConfig shape: a log
// directory plus independent file/console verbosity knobs.
type LoggingConfig struct {
	LogDir       string `mapstructure:"log_dir" yaml:"log_dir"`
	FileLevel    string `mapstructure:"file_level" yaml:"file_level"`       // debug, info, warn, error
	ConsoleLevel string `mapstructure:"console_level" yaml:"console_level"` // debug, info, warn, error
}
