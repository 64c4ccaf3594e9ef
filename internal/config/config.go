package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cityclaims/cityclaims/internal/bus"
	"github.com/cityclaims/cityclaims/internal/clarity"
	"github.com/cityclaims/cityclaims/internal/stacks"
	"github.com/cityclaims/cityclaims/internal/storage"
	"github.com/cityclaims/cityclaims/internal/verify"
)

// Bus modes
const (
	BusNone   = "none"
	BusMemory = "memory"
	BusRedis  = "redis"
)

// Config represents the complete configuration. Values are read from the
// YAML file first; CITYCLAIMS_* environment variables override them.
type Config struct {
	// Address is the default principal whose claims are listed
	Address      string             `yaml:"address" env:"CITYCLAIMS_ADDRESS"`
	DataDir      string             `yaml:"data_dir" env:"CITYCLAIMS_DATA_DIR"`
	Stacks       StacksConfig       `yaml:"stacks"`
	Verification VerificationConfig `yaml:"verification"`
	Storage      StorageConfig      `yaml:"storage"`
	Bus          BusConfig          `yaml:"bus"`
	Log          LogConfig          `yaml:"log"`
}

// StacksConfig contains read-only API settings
type StacksConfig struct {
	Endpoints   []string `yaml:"endpoints" env:"CITYCLAIMS_STACKS_ENDPOINTS" envSeparator:","`
	APIKey      string   `yaml:"api_key" env:"CITYCLAIMS_STACKS_API_KEY"`
	Sender      string   `yaml:"sender" env:"CITYCLAIMS_STACKS_SENDER"` // tx-sender for read-only calls
	TimeoutSecs int      `yaml:"timeout_secs" env:"CITYCLAIMS_STACKS_TIMEOUT_SECS"`
}

// VerificationConfig contains throttling and batching settings
type VerificationConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"CITYCLAIMS_VERIFY_RPS"`
	Burst             int     `yaml:"burst" env:"CITYCLAIMS_VERIFY_BURST"`
	MaxRetries        int     `yaml:"max_retries" env:"CITYCLAIMS_VERIFY_MAX_RETRIES"`
	BaseDelayMs       int     `yaml:"base_delay_ms"`
	MaxDelaySecs      int     `yaml:"max_delay_secs"`
	Concurrency       int     `yaml:"concurrency"`
	BatchSize         int     `yaml:"batch_size" env:"CITYCLAIMS_VERIFY_BATCH_SIZE"`
	BatchDelayMs      int     `yaml:"batch_delay_ms" env:"CITYCLAIMS_VERIFY_BATCH_DELAY_MS"`
	FailedTTLMins     int     `yaml:"failed_ttl_mins"` // check-failed results are retried after this
}

// StorageConfig contains the cache database location and size bounds
type StorageConfig struct {
	Path          string `yaml:"path" env:"CITYCLAIMS_STORAGE_PATH"`
	WarningBytes  int64  `yaml:"warning_bytes"`
	CriticalBytes int64  `yaml:"critical_bytes"`
	CapBytes      int64  `yaml:"cap_bytes" env:"CITYCLAIMS_STORAGE_CAP_BYTES"`
}

// BusConfig selects how cache updates reach other processes
type BusConfig struct {
	Mode         string `yaml:"mode" env:"CITYCLAIMS_BUS_MODE"` // none, memory or redis
	RedisURL     string `yaml:"redis_url" env:"CITYCLAIMS_REDIS_URL"`
	RedisAddr    string `yaml:"redis_addr" env:"CITYCLAIMS_REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" env:"CITYCLAIMS_LOG_LEVEL"`
	Format string `yaml:"format" env:"CITYCLAIMS_LOG_FORMAT"` // "json" or "text"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cityclaims")
	th := storage.DefaultThresholds()
	vc := verify.DefaultConfig()

	return &Config{
		DataDir: dataDir,
		Stacks: StacksConfig{
			Endpoints:   append([]string(nil), stacks.DefaultEndpoints...),
			TimeoutSecs: 15,
		},
		Verification: VerificationConfig{
			RequestsPerSecond: vc.RequestsPerSecond,
			Burst:             vc.Burst,
			MaxRetries:        vc.MaxRetries,
			BaseDelayMs:       int(vc.BaseDelay / time.Millisecond),
			MaxDelaySecs:      int(vc.MaxDelay / time.Second),
			Concurrency:       vc.Concurrency,
			BatchSize:         5,
			BatchDelayMs:      1000,
			FailedTTLMins:     30,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dataDir, "cache.db"),
			WarningBytes:  th.WarningBytes,
			CriticalBytes: th.CriticalBytes,
			CapBytes:      th.CapBytes,
		},
		Bus: BusConfig{
			Mode:         BusNone,
			RedisChannel: bus.DefaultRedisChannel,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from path, applies environment overrides
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// may hold an API key
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Address != "" {
		if err := clarity.ValidateAddress(c.Address); err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
	}

	// Stacks API
	if len(c.Stacks.Endpoints) == 0 {
		return fmt.Errorf("at least one stacks endpoint is required")
	}
	for _, e := range c.Stacks.Endpoints {
		u, err := url.Parse(e)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid stacks endpoint: %q", e)
		}
	}
	if c.Stacks.Sender != "" {
		if err := clarity.ValidateAddress(c.Stacks.Sender); err != nil {
			return fmt.Errorf("invalid stacks sender: %w", err)
		}
	}
	if c.Stacks.TimeoutSecs < 1 {
		return fmt.Errorf("timeout_secs must be at least 1")
	}

	// Verification
	v := c.Verification
	if v.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if v.Burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}
	if v.MaxRetries < 0 || v.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10")
	}
	if v.BaseDelayMs < 1 || v.MaxDelaySecs < 1 {
		return fmt.Errorf("retry delays must be positive")
	}
	if v.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if v.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if v.BatchDelayMs < 0 {
		return fmt.Errorf("batch_delay_ms must not be negative")
	}
	if v.FailedTTLMins < 0 {
		return fmt.Errorf("failed_ttl_mins must not be negative")
	}

	// Storage
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}

	// Bus
	switch c.Bus.Mode {
	case BusNone, BusMemory:
	case BusRedis:
		if c.Bus.RedisURL == "" && c.Bus.RedisAddr == "" {
			return fmt.Errorf("redis bus requires redis_url or redis_addr")
		}
	default:
		return fmt.Errorf("invalid bus mode: %s", c.Bus.Mode)
	}

	// Logging
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// StacksClient returns the read-only client settings
func (c *Config) StacksClient() stacks.Config {
	return stacks.Config{
		Endpoints: append([]string(nil), c.Stacks.Endpoints...),
		APIKey:    c.Stacks.APIKey,
		Sender:    c.Stacks.Sender,
		Timeout:   time.Duration(c.Stacks.TimeoutSecs) * time.Second,
	}
}

// Verifier returns the verification client settings
func (c *Config) Verifier() verify.Config {
	v := c.Verification
	return verify.Config{
		RequestsPerSecond: v.RequestsPerSecond,
		Burst:             v.Burst,
		MaxRetries:        v.MaxRetries,
		BaseDelay:         time.Duration(v.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(v.MaxDelaySecs) * time.Second,
		Concurrency:       v.Concurrency,
	}
}

// BatchDelay is the pause between verification batches
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Verification.BatchDelayMs) * time.Millisecond
}

// FailedTTL is how long a check-failed result is kept
func (c *Config) FailedTTL() time.Duration {
	return time.Duration(c.Verification.FailedTTLMins) * time.Minute
}

// Thresholds returns the storage guard bounds
func (c *Config) Thresholds() storage.Thresholds {
	return storage.Thresholds{
		WarningBytes:  c.Storage.WarningBytes,
		CriticalBytes: c.Storage.CriticalBytes,
		CapBytes:      c.Storage.CapBytes,
	}
}

// Redis returns the Redis bus settings
func (c *Config) Redis() bus.RedisConfig {
	return bus.RedisConfig{
		URL:     c.Bus.RedisURL,
		Addr:    c.Bus.RedisAddr,
		Channel: c.Bus.RedisChannel,
	}
}

func (c *Config) expandPaths() {
	c.DataDir = expandPath(c.DataDir)
	c.Storage.Path = expandPath(c.Storage.Path)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".cityclaims", "config.yaml")
}

// EnsureDirectories creates the data directory and the storage directory
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, filepath.Dir(c.Storage.Path)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
