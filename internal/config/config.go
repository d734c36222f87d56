// Package config holds the shmbox configuration. Values come from defaults,
// an optional YAML file and SHMBOX_* environment variables, merged by viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/srediag/shmbox/internal/logging"
	"github.com/srediag/shmbox/pkg/lifecycle"
)

// EnvPrefix prefixes every environment override, e.g. SHMBOX_REGION_NAME
// for region.name.
const EnvPrefix = "SHMBOX"

// Config represents the complete shmbox configuration
type Config struct {
	Region    RegionConfig    `mapstructure:"region"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

// RegionConfig locates the shared mailbox file
type RegionConfig struct {
	// Dir is the directory holding the region file (default: /dev/shm)
	Dir string `mapstructure:"dir"`
	// Name is the region file name (default: shmbox)
	Name string `mapstructure:"name"`
}

// Path returns the full region file path.
func (r RegionConfig) Path() string {
	return filepath.Join(r.Dir, r.Name)
}

// LogConfig controls the diagnostic logger
type LogConfig struct {
	// Level is 0 (trace) to 5 (silent); default 3 (warn)
	Level int `mapstructure:"level"`
}

// HTTPConfig controls the serve command's listener
type HTTPConfig struct {
	// Addr serves /metrics, /live, /ready and /journal
	Addr string `mapstructure:"addr"`
}

// RetryConfig is the caller-side retry policy for busy mailboxes
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first try (0 = fail fast)
	MaxAttempts uint64 `mapstructure:"max_attempts"`
	// Interval is the pause between attempts
	Interval time.Duration `mapstructure:"interval"`
}

// LifecycleConfig controls endpoint bookkeeping
type LifecycleConfig struct {
	// BaseID is the id of the first registered endpoint
	BaseID int `mapstructure:"base_id"`
}

// JournalConfig sizes the diagnostic journal
type JournalConfig struct {
	// Size is the number of events kept (rounded up to a power of two)
	Size uint64 `mapstructure:"size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Region: RegionConfig{
			Dir:  "/dev/shm",
			Name: "shmbox",
		},
		Log: LogConfig{
			Level: logging.LevelWarn,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:9464",
		},
		Retry: RetryConfig{
			MaxAttempts: 0,
			Interval:    10 * time.Millisecond,
		},
		Lifecycle: LifecycleConfig{
			BaseID: lifecycle.DefaultBaseID,
		},
		Journal: JournalConfig{
			Size: 256,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("region.dir", defaults.Region.Dir)
	v.SetDefault("region.name", defaults.Region.Name)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("http.addr", defaults.HTTP.Addr)
	v.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("retry.interval", defaults.Retry.Interval)
	v.SetDefault("lifecycle.base_id", defaults.Lifecycle.BaseID)
	v.SetDefault("journal.size", defaults.Journal.Size)
}

// BindEnv makes SHMBOX_* environment variables override the keys of v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	// Replace dots with underscores for nested keys in env vars
	// e.g., SHMBOX_RETRY_MAX_ATTEMPTS for retry.max_attempts
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Region.Dir == "" {
		errs = append(errs, errors.New("region.dir must not be empty"))
	}
	if c.Region.Name == "" || strings.ContainsRune(c.Region.Name, filepath.Separator) {
		errs = append(errs, fmt.Errorf("region.name %q must be a plain file name", c.Region.Name))
	}
	if c.Log.Level < logging.LevelTrace || c.Log.Level > logging.LevelNoPrint {
		errs = append(errs, fmt.Errorf("log.level %d out of range [%d,%d]", c.Log.Level, logging.LevelTrace, logging.LevelNoPrint))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must not be empty"))
	}
	if c.Retry.MaxAttempts > 0 && c.Retry.Interval <= 0 {
		errs = append(errs, errors.New("retry.interval must be positive when retries are enabled"))
	}
	if c.Lifecycle.BaseID < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.base_id %d must not be negative", c.Lifecycle.BaseID))
	}
	return errors.Join(errs...)
}
