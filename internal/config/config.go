// Package config loads acteond's runtime configuration: environment
// variables overlaid on an optional YAML file, the way the teacher's
// kubebuilder manager read its flags, generalized to a single typed
// struct a library caller can also construct by hand.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StoreBackend selects which store.StateStore/DistributedLock pair the
// gateway is built against.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
)

// Config is acteond's full runtime configuration.
type Config struct {
	NodeID string `mapstructure:"node_id"`

	Store StoreConfig `mapstructure:"store"`

	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	LockWait time.Duration `mapstructure:"lock_wait"`

	Executor ExecutorConfig `mapstructure:"executor"`

	ApprovalSigningKey string `mapstructure:"approval_signing_key"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StoreConfig selects and configures the state-store backend.
type StoreConfig struct {
	Backend   StoreBackend `mapstructure:"backend"`
	RedisAddr string       `mapstructure:"redis_addr"`
	RedisDB   int          `mapstructure:"redis_db"`
	KeyPrefix string       `mapstructure:"key_prefix"`
}

// ExecutorConfig mirrors executor.Config's tunables in a form viper can
// populate from env vars and YAML alike.
type ExecutorConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

// Load reads configuration from, in ascending priority: built-in
// defaults, an optional YAML file at path (skipped if path is empty),
// then ACTEOND_-prefixed environment variables — matching the
// defaults-then-file-then-env precedence viper is built around.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("acteond")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("node_id", "acteond-0")
	v.SetDefault("store.backend", string(StoreBackendMemory))
	v.SetDefault("store.key_prefix", "acteon")
	v.SetDefault("lock_ttl", 10*time.Second)
	v.SetDefault("lock_wait", 5*time.Second)
	v.SetDefault("executor.max_attempts", 4) // 3 retries plus the initial attempt
	v.SetDefault("executor.max_concurrency", 100)
	v.SetDefault("executor.call_timeout", 30*time.Second)
	v.SetDefault("metrics_addr", ":9090")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
