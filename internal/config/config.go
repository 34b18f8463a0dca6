package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "sqlite", "bolt" or "redis"
	Path  string      `mapstructure:"path"` // database file for sqlite and bolt
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LeaderboardConfig bounds ranking requests
type LeaderboardConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MinLimit     int `mapstructure:"min_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// AdminConfig defines admin mutation settings
type AdminConfig struct {
	MaxHours  float64 `mapstructure:"max_hours"`
	PolicyDir string  `mapstructure:"policy_dir"` // optional directory of .rego files overriding the built-in policy
}

// RecoveryConfig defines startup reconciliation settings
type RecoveryConfig struct {
	PresenceFile string `mapstructure:"presence_file"`
}

// NotifyConfig defines outbound session event notification
type NotifyConfig struct {
	LogEvents    bool   `mapstructure:"log_events"`
	RedisChannel string `mapstructure:"redis_channel"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("STREAMSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "/var/lib/streamstats/streamstats.sqlite3")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "streamstats")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Leaderboard defaults
	v.SetDefault("leaderboard.default_limit", 5)
	v.SetDefault("leaderboard.min_limit", 5)
	v.SetDefault("leaderboard.max_limit", 25)

	// Admin defaults
	v.SetDefault("admin.max_hours", 10000.0)
	v.SetDefault("admin.policy_dir", "")

	// Recovery defaults
	v.SetDefault("recovery.presence_file", "")

	// Notification defaults
	v.SetDefault("notify.log_events", true)
	v.SetDefault("notify.redis_channel", "")
}

// ClampLimit bounds a requested leaderboard size. Zero selects the default.
func (c LeaderboardConfig) ClampLimit(n int) int {
	if n == 0 {
		n = c.DefaultLimit
	}
	if n < c.MinLimit {
		return c.MinLimit
	}
	if n > c.MaxLimit {
		return c.MaxLimit
	}
	return n
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "sqlite"
	}
	switch cfg.Storage.Type {
	case "sqlite", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s", cfg.Storage.Type)
		}
		// Ensure storage directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	lb := cfg.Leaderboard
	if lb.MinLimit < 1 {
		return fmt.Errorf("leaderboard min_limit must be at least 1, got %d", lb.MinLimit)
	}
	if lb.MaxLimit < lb.MinLimit {
		return fmt.Errorf("leaderboard max_limit %d is below min_limit %d", lb.MaxLimit, lb.MinLimit)
	}
	if lb.DefaultLimit < lb.MinLimit || lb.DefaultLimit > lb.MaxLimit {
		return fmt.Errorf("leaderboard default_limit %d outside [%d, %d]", lb.DefaultLimit, lb.MinLimit, lb.MaxLimit)
	}

	if cfg.Admin.MaxHours <= 0 {
		return fmt.Errorf("admin max_hours must be positive, got %v", cfg.Admin.MaxHours)
	}

	return nil
}
