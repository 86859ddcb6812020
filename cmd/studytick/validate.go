package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/studytick/studytick/internal/accounting/redis"
	"github.com/studytick/studytick/internal/config"
)

var validateLive bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the studytick configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateLive, "live", false, "Also probe Redis, cache directory and beacon address")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	cfg, err := config.Load(configPath)
	if err != nil {
		red.Fprintf(os.Stderr, "FAIL  configuration: %v\n", err)
		return err
	}
	green.Printf("OK    configuration: %s\n", configPath)

	// Warn about keys the daemon will silently ignore.
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not check for unknown keys: %v\n", err)
	}
	if len(unknownKeys) > 0 {
		red.Printf("WARN  %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Printf("        - %s\n", key)
		}
		fmt.Println("      These keys will be ignored and may indicate typos.")
	}

	if !validateLive {
		return nil
	}

	failed := false

	if err := checkCacheDir(cfg.Cache.Path); err != nil {
		red.Printf("FAIL  cache directory: %v\n", err)
		failed = true
	} else {
		green.Printf("OK    cache directory: %s\n", filepath.Dir(cfg.Cache.Path))
	}

	if err := checkRedis(cfg); err != nil {
		red.Printf("FAIL  redis: %v\n", err)
		failed = true
	} else {
		green.Printf("OK    redis: %s:%d\n", cfg.Redis.Host, cfg.Redis.Port)
	}

	if cfg.Beacon.Addr != "" {
		if _, err := net.ResolveUDPAddr("udp", cfg.Beacon.Addr); err != nil {
			red.Printf("FAIL  beacon address: %v\n", err)
			failed = true
		} else {
			green.Printf("OK    beacon address: %s\n", cfg.Beacon.Addr)
		}
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func checkCacheDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".validate")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkRedis(cfg *config.Config) error {
	client, err := redis.Open(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Redis().Ping(ctx).Err()
}

// findUnknownKeys loads the config file and compares its keys against the
// set the daemon actually reads.
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

// getValidKeys returns the set of configuration keys the daemon reads.
func getValidKeys() map[string]bool {
	return map[string]bool{
		// Cache
		"cache.path": true,

		// Redis
		"redis.host":           true,
		"redis.port":           true,
		"redis.password":       true,
		"redis.db":             true,
		"redis.pool_size":      true,
		"redis.min_idle_conns": true,
		"redis.dial_timeout":   true,
		"redis.read_timeout":   true,
		"redis.write_timeout":  true,

		// Engine
		"engine.tick_interval":        true,
		"engine.points_every_ticks":   true,
		"engine.flush_every_ticks":    true,
		"engine.points_debounce":      true,
		"engine.total_time_debounce":  true,
		"engine.foreground_gap":       true,
		"engine.membership_cache_ttl": true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Metrics
		"metrics.enabled":      true,
		"metrics.port":         true,
		"metrics.bind_address": true,

		// Beacon
		"beacon.addr": true,
	}
}
