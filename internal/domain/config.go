package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Store        StoreConfig        `mapstructure:"store"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Proxy        ProxyConfig        `mapstructure:"proxy"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains orchestrator configuration
type DownloadConfig struct {
	ConcurrentLimit        int           `mapstructure:"concurrent_limit"`
	SegmentDelay           time.Duration `mapstructure:"segment_delay"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout"`            // 0 disables the per-fetch timeout
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"` // 0 tolerates any number of skipped segments
	ResumeOnStart          bool          `mapstructure:"resume_on_start"`
	LogsDir                string        `mapstructure:"logs_dir"`
}

// StoreConfig contains metadata store configuration
type StoreConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// CacheConfig contains segment cache configuration
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ProxyConfig describes how segment URLs are rewritten through the edge proxy
type ProxyConfig struct {
	Origin      string `mapstructure:"origin"` // empty disables rewriting
	CloudSuffix string `mapstructure:"cloud_suffix"`
	EdgeSuffix  string `mapstructure:"edge_suffix"`
	// AllowedHosts are the hosts /proxy may reach. When empty and Origin is set,
	// only hosts of segments rewritten from admitted manifests are reachable.
	// Empty with no Origin leaves /proxy open to any host.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Download: DownloadConfig{
			ConcurrentLimit:        3,
			SegmentDelay:           50 * time.Millisecond,
			FetchTimeout:           0,
			MaxConsecutiveFailures: 0,
			ResumeOnStart:          true,
			LogsDir:                "$HOME/.episode-offline/logs",
		},
		Store: StoreConfig{
			DatabasePath: "$HOME/.episode-offline/downloads.db",
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     "$HOME/.episode-offline/segments",
		},
		Proxy: ProxyConfig{
			Origin:      "",
			CloudSuffix: ".convex.cloud",
			EdgeSuffix:  ".convex.site",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Sound:   false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
