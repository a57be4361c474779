package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Network  NetworkConfig  `mapstructure:"network"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Sync     SyncConfig     `mapstructure:"sync"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
}

// BackendConfig contains backend record-store configuration
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

// AuthConfig locates the session file the host application maintains
type AuthConfig struct {
	SessionFile string `mapstructure:"session_file"`
}

// CacheConfig contains local cache settings
type CacheConfig struct {
	MaxCacheSizeMB       int    `mapstructure:"max_cache_size_mb"`
	MaxStoreSizeMB       int    `mapstructure:"max_store_size_mb"`
	TTLDays              int    `mapstructure:"ttl_days"`
	AutoCleanupEnabled   bool   `mapstructure:"auto_cleanup_enabled"`
	CleanupIntervalHours int    `mapstructure:"cleanup_interval_hours"`
	EncryptionSecret     string `mapstructure:"encryption_secret"`
}

// NetworkConfig contains network monitor settings
type NetworkConfig struct {
	ProbeURL       string `mapstructure:"probe_url"`
	ProbeInterval  string `mapstructure:"probe_interval"`
	ProbeTimeout   string `mapstructure:"probe_timeout"`
	WifiOnlySync   bool   `mapstructure:"wifi_only_sync"`
	MinSyncQuality string `mapstructure:"min_sync_quality"`
}

// QueueConfig contains operation queue settings
type QueueConfig struct {
	MaxQueueSize     int `mapstructure:"max_queue_size"`
	MaxRetries       int `mapstructure:"max_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
}

// SyncConfig contains sync engine and scheduler settings
type SyncConfig struct {
	BatchSize                     int  `mapstructure:"batch_size"`
	BackgroundSyncEnabled         bool `mapstructure:"background_sync_enabled"`
	BackgroundSyncIntervalMinutes int  `mapstructure:"background_sync_interval_minutes"`
}

// HTTPConfig contains the status API server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains local database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("backend.request_timeout", "30s")
	viper.SetDefault("cache.max_cache_size_mb", 50)
	viper.SetDefault("cache.max_store_size_mb", 100)
	viper.SetDefault("cache.ttl_days", 30)
	viper.SetDefault("cache.auto_cleanup_enabled", true)
	viper.SetDefault("cache.cleanup_interval_hours", 24)
	viper.SetDefault("network.probe_url", "https://www.gstatic.com/generate_204")
	viper.SetDefault("network.probe_interval", "30s")
	viper.SetDefault("network.probe_timeout", "5s")
	viper.SetDefault("network.wifi_only_sync", false)
	viper.SetDefault("network.min_sync_quality", "fair")
	viper.SetDefault("queue.max_queue_size", 1000)
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.retry_base_delay_ms", 1000)
	viper.SetDefault("sync.batch_size", 100)
	viper.SetDefault("sync.background_sync_enabled", true)
	viper.SetDefault("sync.background_sync_interval_minutes", 15)
	viper.SetDefault("http.bind_addr", "127.0.0.1:8099")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required")
	}
	if c.Auth.SessionFile == "" {
		return fmt.Errorf("auth.session_file is required")
	}

	if c.Cache.MaxCacheSizeMB <= 0 {
		return fmt.Errorf("cache.max_cache_size_mb must be positive")
	}
	if c.Cache.MaxStoreSizeMB < c.Cache.MaxCacheSizeMB {
		return fmt.Errorf("cache.max_store_size_mb must be at least cache.max_cache_size_mb")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Queue.MaxQueueSize <= 0 {
		return fmt.Errorf("queue.max_queue_size must be positive")
	}
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive")
	}

	if c.Sync.BackgroundSyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync.background_sync_interval_minutes must be positive")
	}

	if _, err := time.ParseDuration(c.Network.ProbeInterval); err != nil {
		return fmt.Errorf("invalid network.probe_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Network.ProbeTimeout); err != nil {
		return fmt.Errorf("invalid network.probe_timeout: %w", err)
	}

	switch c.Network.MinSyncQuality {
	case "poor", "fair", "good", "excellent":
		// Valid qualities
	default:
		return fmt.Errorf("invalid network.min_sync_quality: %s", c.Network.MinSyncQuality)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetRequestTimeout returns the backend request timeout as time.Duration
func (c *BackendConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetProbeInterval returns the probe interval as time.Duration
func (c *NetworkConfig) GetProbeInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProbeInterval)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetProbeTimeout returns the probe timeout as time.Duration
func (c *NetworkConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

// MinQuality returns the configured minimum sync quality
func (c *NetworkConfig) MinQuality() string {
	if c.MinSyncQuality == "" {
		return "fair"
	}
	return c.MinSyncQuality
}

// GetRetryBaseDelay returns the retry base delay as time.Duration
func (c *QueueConfig) GetRetryBaseDelay() time.Duration {
	if c.RetryBaseDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// GetBackgroundSyncInterval returns the background sync cadence
func (c *SyncConfig) GetBackgroundSyncInterval() time.Duration {
	if c.BackgroundSyncIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.BackgroundSyncIntervalMinutes) * time.Minute
}

// GetCleanupInterval returns the cache cleanup cadence
func (c *CacheConfig) GetCleanupInterval() time.Duration {
	if c.CleanupIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// GetTTL returns the durable store TTL
func (c *CacheConfig) GetTTL() time.Duration {
	if c.TTLDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}
