package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Beacon  BeaconConfig  `mapstructure:"beacon"`
}

// CacheConfig defines the local durable time cache
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig defines the remote accounting store connection
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

// EngineConfig defines accounting cadences
type EngineConfig struct {
	TickInterval       string `mapstructure:"tick_interval"`
	PointsEveryTicks   int64  `mapstructure:"points_every_ticks"`
	FlushEveryTicks    int64  `mapstructure:"flush_every_ticks"`
	PointsDebounce     string `mapstructure:"points_debounce"`
	TotalTimeDebounce  string `mapstructure:"total_time_debounce"`
	ForegroundGap      string `mapstructure:"foreground_gap"`
	MembershipCacheTTL string `mapstructure:"membership_cache_ttl"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// BeaconConfig defines the best-effort termination transport
type BeaconConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("STUDYTICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
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

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.path", "/var/lib/studytick/studytick.bolt")

	// Redis defaults
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// Engine defaults: 1 point per 10s of running time, flush each minute
	v.SetDefault("engine.tick_interval", "1s")
	v.SetDefault("engine.points_every_ticks", 10)
	v.SetDefault("engine.flush_every_ticks", 60)
	v.SetDefault("engine.points_debounce", "500ms")
	v.SetDefault("engine.total_time_debounce", "2s")
	v.SetDefault("engine.foreground_gap", "60s")
	v.SetDefault("engine.membership_cache_ttl", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.bind_address", "0.0.0.0")

	// Beacon defaults (empty disables the UDP beacon)
	v.SetDefault("beacon.addr", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Cache.Path == "" {
		return fmt.Errorf("cache path is required")
	}

	cacheDir := filepath.Dir(cfg.Cache.Path)
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Engine.PointsEveryTicks <= 0 {
		return fmt.Errorf("points_every_ticks must be positive")
	}
	if cfg.Engine.FlushEveryTicks <= 0 {
		return fmt.Errorf("flush_every_ticks must be positive")
	}

	for name, value := range map[string]string{
		"tick_interval":        cfg.Engine.TickInterval,
		"points_debounce":      cfg.Engine.PointsDebounce,
		"total_time_debounce":  cfg.Engine.TotalTimeDebounce,
		"foreground_gap":       cfg.Engine.ForegroundGap,
		"membership_cache_ttl": cfg.Engine.MembershipCacheTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid engine.%s: %w", name, err)
		}
	}

	return nil
}
