package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	forgeerrors "github.com/forgebuild/forge/internal/errors"
)

// Loader reads workspace configuration from multiple sources with
// precedence CLI overrides > workspace .forge/config.yaml > user
// ~/.forgerc.yaml > struct defaults, the same layered shape as the
// teacher's config.Loader (.ai/config.yaml > ~/.gendocs.yaml >
// environment > defaults), adapted to this project's file names and env
// prefix. The BUILDER_* variables handled by applyEnvOverrides are
// applied last and win over every other source, CLI overrides included.
type Loader struct {
	v *viper.Viper
}

// NewLoader constructs a Loader, loading a .env file from the current
// directory if one is present.
func NewLoader() *Loader {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("BUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v}
}

// Load reads ~/.forgerc.yaml, then merges in <workspaceRoot>/.forge/config.yaml,
// then applies cliOverrides (dotted keys, e.g. "scheduler.workers"), and
// decodes the result into a WorkspaceConfig.
func (l *Loader) Load(workspaceRoot string, cliOverrides map[string]interface{}) (*WorkspaceConfig, error) {
	if err := l.loadUserConfig(); err != nil {
		return nil, err
	}
	if err := l.loadWorkspaceConfig(workspaceRoot); err != nil {
		return nil, err
	}
	for key, value := range cliOverrides {
		if value != nil {
			l.v.Set(key, value)
		}
	}

	cfg := &WorkspaceConfig{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal workspace config: %w", err)
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadUserConfig loads the optional global user override file.
func (l *Loader) loadUserConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	userConfig := filepath.Join(homeDir, ".forgerc.yaml")
	if _, err := os.Stat(userConfig); err != nil {
		return nil
	}
	l.v.SetConfigFile(userConfig)
	if err := l.v.ReadInConfig(); err != nil {
		return forgeerrors.NewConfigFileError(userConfig, err)
	}
	return nil
}

// loadWorkspaceConfig merges in the workspace-local config file, if
// present, taking precedence over the user-level file already loaded.
func (l *Loader) loadWorkspaceConfig(workspaceRoot string) error {
	if workspaceRoot == "" {
		workspaceRoot = "."
	}
	configPath := filepath.Join(workspaceRoot, ".forge", "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}
	l.v.SetConfigFile(configPath)
	if err := l.v.MergeInConfig(); err != nil {
		return forgeerrors.NewConfigFileError(configPath, err)
	}
	return nil
}

// applyDefaults fills in zero-valued fields with the workspace's
// documented defaults, mirroring the teacher's applyAnalyzerDefaults
// pattern of post-decode default application rather than relying solely
// on viper.SetDefault.
func applyDefaults(cfg *WorkspaceConfig) {
	if cfg.Version == 0 {
		cfg.Version = CurrentConfigVersion
	}
	if cfg.Cache.Root == "" {
		cfg.Cache.Root = cfg.Cache.RootOrDefault()
	}
	if cfg.Remote.RateLimitPerSecond == 0 {
		cfg.Remote.RateLimitPerSecond = 20
	}
	if cfg.Remote.RateLimitBurst == 0 {
		cfg.Remote.RateLimitBurst = 10
	}
	if cfg.Remote.CircuitBreakerThreshold == 0 {
		cfg.Remote.CircuitBreakerThreshold = 5
	}
	if cfg.Logging.FileLevel == "" {
		cfg.Logging.FileLevel = "info"
	}
	if cfg.Logging.ConsoleLevel == "" {
		cfg.Logging.ConsoleLevel = "warn"
	}
}

// applyEnvOverrides applies the handful of BUILDER_* environment
// variables that take precedence over file-based config even though
// viper.AutomaticEnv already surfaces them for unset fields — this
// explicit pass lets an env var override whatever value a config file or
// a CLI override set, whenever the variable is non-empty.
func applyEnvOverrides(cfg *WorkspaceConfig) {
	if env := os.Getenv("BUILDER_CACHE_ROOT"); env != "" {
		cfg.Cache.Root = env
	}
	if env := os.Getenv("BUILDER_REMOTE_BASE_URL"); env != "" {
		cfg.Remote.BaseURL = env
		cfg.Remote.Enabled = true
	}
	if env := os.Getenv("BUILDER_SCHEDULER_WORKERS"); env != "" {
		cfg.Scheduler.Workers = getEnvIntOrDefault("BUILDER_SCHEDULER_WORKERS", cfg.Scheduler.Workers)
	}
	if env := os.Getenv("BUILDER_DISTRIBUTED_LISTEN_ADDRESS"); env != "" {
		cfg.Distributed.ListenAddress = env
		cfg.Distributed.Enabled = true
	}
}

// GetEnvVar returns a required environment variable's value, or an
// error naming it if unset.
func GetEnvVar(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", forgeerrors.NewMissingEnvVarError(name)
	}
	return value, nil
}

// GetEnvVarOrDefault returns an environment variable's value, or
// defaultValue if unset.
func GetEnvVarOrDefault(name, defaultValue string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
