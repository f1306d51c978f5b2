package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yourusername/episode-offline-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	// Start with default config
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, config)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.episode-offline")
		v.AddConfigPath("/etc/episode-offline")
	}

	// EPOFFLINE_DOWNLOAD_CONCURRENT_LIMIT overrides download.concurrent_limit
	v.SetEnvPrefix("EPOFFLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so environment overrides apply without a config file
func setDefaults(v *viper.Viper, config *domain.Config) {
	v.SetDefault("server.host", config.Server.Host)
	v.SetDefault("server.port", config.Server.Port)

	v.SetDefault("download.concurrent_limit", config.Download.ConcurrentLimit)
	v.SetDefault("download.segment_delay", config.Download.SegmentDelay)
	v.SetDefault("download.fetch_timeout", config.Download.FetchTimeout)
	v.SetDefault("download.max_consecutive_failures", config.Download.MaxConsecutiveFailures)
	v.SetDefault("download.resume_on_start", config.Download.ResumeOnStart)
	v.SetDefault("download.logs_dir", config.Download.LogsDir)

	v.SetDefault("store.database_path", config.Store.DatabasePath)

	v.SetDefault("cache.enabled", config.Cache.Enabled)
	v.SetDefault("cache.dir", config.Cache.Dir)

	v.SetDefault("proxy.origin", config.Proxy.Origin)
	v.SetDefault("proxy.cloud_suffix", config.Proxy.CloudSuffix)
	v.SetDefault("proxy.edge_suffix", config.Proxy.EdgeSuffix)
	v.SetDefault("proxy.allowed_hosts", config.Proxy.AllowedHosts)

	v.SetDefault("notification.enabled", config.Notification.Enabled)
	v.SetDefault("notification.sound", config.Notification.Sound)
	v.SetDefault("notification.method", config.Notification.Method)

	v.SetDefault("logging.level", config.Logging.Level)
	v.SetDefault("logging.format", config.Logging.Format)
	v.SetDefault("logging.output_path", config.Logging.OutputPath)

	v.SetDefault("metrics.enabled", config.Metrics.Enabled)
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.LogsDir = expandPath(config.Download.LogsDir)
	config.Store.DatabasePath = expandPath(config.Store.DatabasePath)
	config.Cache.Dir = expandPath(config.Cache.Dir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	// $HOME first so an unset HOME still resolves through the user database
	if strings.Contains(path, "$HOME") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return path
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Download.ConcurrentLimit < 1 {
		return fmt.Errorf("concurrent limit must be at least 1")
	}

	if config.Download.SegmentDelay < 0 {
		return fmt.Errorf("segment delay cannot be negative")
	}

	if config.Download.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeout cannot be negative")
	}

	if config.Download.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max consecutive failures cannot be negative")
	}

	if config.Store.DatabasePath == "" {
		return fmt.Errorf("store database path not configured")
	}

	if config.Cache.Enabled && config.Cache.Dir == "" {
		return fmt.Errorf("cache directory not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, config)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
