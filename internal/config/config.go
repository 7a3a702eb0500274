package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Pulse   PulseConfig   `mapstructure:"pulse"`
	Report  ReportConfig  `mapstructure:"report"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	HTTPPort       int      `mapstructure:"http_port"`
	MetricsPort    int      `mapstructure:"metrics_port"` // 0 disables the metrics server
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the connection to a Redis storage backend
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
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PulseConfig defines how incoming pulses are batched before they are written
type PulseConfig struct {
	MaxFlushDelay   string `mapstructure:"max_flush_delay"`
	QueueSize       int    `mapstructure:"queue_size"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// ReportConfig defines report caching
type ReportConfig struct {
	CacheSize int    `mapstructure:"cache_size"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

// LimitsConfig defines where limit policies are loaded from.
// An empty PolicyDir selects the built-in policy.
type LimitsConfig struct {
	PolicyDir string `mapstructure:"policy_dir"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("ZEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

// Default returns the configuration built from defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.allowed_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/zen/zen.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Pulse batching defaults
	v.SetDefault("pulse.max_flush_delay", "10s")
	v.SetDefault("pulse.queue_size", 256)
	v.SetDefault("pulse.shutdown_timeout", "30s")

	// Report defaults
	v.SetDefault("report.cache_size", 32)
	v.SetDefault("report.cache_ttl", "60s")

	// Limits defaults
	v.SetDefault("limits.policy_dir", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	for name, value := range map[string]string{
		"pulse.max_flush_delay":  cfg.Pulse.MaxFlushDelay,
		"pulse.shutdown_timeout": cfg.Pulse.ShutdownTimeout,
		"report.cache_ttl":       cfg.Report.CacheTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	if cfg.Pulse.QueueSize < 0 {
		return fmt.Errorf("invalid pulse queue size: %d", cfg.Pulse.QueueSize)
	}

	return nil
}
