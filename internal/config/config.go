package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Extraction tools understood by the download service.
const (
	ToolYTDLP   = "ytdlp"
	ToolCommand = "command"
	ToolMock    = "mock"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Download  DownloadConfig  `yaml:"download"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"SERVER_HOST"`
	Port int    `yaml:"port" envconfig:"SERVER_PORT"`
	// APIKey protects /api/v1. Empty disables those routes.
	APIKey          string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" envconfig:"SERVER_TRUST_PROXY_HEADERS"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	// TempPath is the root holding one working directory per download session.
	TempPath string `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH"`
}

// DownloadConfig holds extraction and token handoff configuration.
type DownloadConfig struct {
	Tool   string `yaml:"tool" envconfig:"DOWNLOAD_TOOL"`
	Binary string `yaml:"binary" envconfig:"DOWNLOAD_BINARY"`
	// Args is only used by the command tool. {url} and {dir} are substituted.
	Args           []string      `yaml:"args" envconfig:"DOWNLOAD_ARGS"`
	AllowedDomains []string      `yaml:"allowed_domains" envconfig:"DOWNLOAD_ALLOWED_DOMAINS"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	TokenTTL       time.Duration `yaml:"token_ttl" envconfig:"DOWNLOAD_TOKEN_TTL"`
	// StreamCleanupDelay is how long after streaming the session is released.
	StreamCleanupDelay time.Duration `yaml:"stream_cleanup_delay" envconfig:"DOWNLOAD_STREAM_CLEANUP_DELAY"`
	// ConsumeOnStream removes the token before the body is written, so a second
	// GET always fails. When false the token lives until the cleanup delay.
	ConsumeOnStream bool `yaml:"consume_on_stream" envconfig:"DOWNLOAD_CONSUME_ON_STREAM"`
	MaxConcurrent   int  `yaml:"max_concurrent" envconfig:"DOWNLOAD_MAX_CONCURRENT"`
}

// CleanupConfig holds sweep configuration.
type CleanupConfig struct {
	Interval           time.Duration `yaml:"interval" envconfig:"CLEANUP_INTERVAL"`
	MaxAge             time.Duration `yaml:"max_age" envconfig:"CLEANUP_MAX_AGE"`
	TokenSweepInterval time.Duration `yaml:"token_sweep_interval" envconfig:"CLEANUP_TOKEN_SWEEP_INTERVAL"`
	StartupWipe        bool          `yaml:"startup_wipe" envconfig:"CLEANUP_STARTUP_WIPE"`
}

// RateLimitConfig throttles prepare requests per client IP.
type RateLimitConfig struct {
	// RequestsPerMinute of zero disables the throttle.
	RequestsPerMinute int `yaml:"requests_per_minute" envconfig:"RATE_LIMIT_PER_MINUTE"`
	Burst             int `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

// EventsConfig holds activity log configuration.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" envconfig:"EVENTS_BUFFER_SIZE"`
	// SQLitePath enables persistence when set.
	SQLitePath    string `yaml:"sqlite_path" envconfig:"EVENTS_SQLITE_PATH"`
	RetentionDays int    `yaml:"retention_days" envconfig:"EVENTS_RETENTION_DAYS"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			TempPath: "/tmp/clipgrab",
		},
		Download: DownloadConfig{
			Tool:               ToolYTDLP,
			Binary:             "yt-dlp",
			AllowedDomains:     []string{"xiaohongshu.com", "xhslink.com"},
			Timeout:            2 * time.Minute,
			TokenTTL:           5 * time.Minute,
			StreamCleanupDelay: 5 * time.Second,
			ConsumeOnStream:    true,
			MaxConcurrent:      4,
		},
		Cleanup: CleanupConfig{
			Interval:           10 * time.Minute,
			MaxAge:             10 * time.Minute,
			TokenSweepInterval: 5 * time.Minute,
			StartupWipe:        true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 10,
			Burst:             5,
		},
		Events: EventsConfig{
			BufferSize:    1000,
			RetentionDays: 30,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, an optional
// .env file in the working directory and the environment, in that order.
// Later sources override earlier ones.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// .env never overrides variables already set in the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if c.Storage.TempPath == "" {
		return fmt.Errorf("STORAGE_TEMP_PATH is required")
	}

	switch c.Download.Tool {
	case ToolYTDLP, ToolMock:
	case ToolCommand:
		if c.Download.Binary == "" {
			return fmt.Errorf("DOWNLOAD_BINARY is required for the command tool")
		}
	default:
		return fmt.Errorf("unknown DOWNLOAD_TOOL %q", c.Download.Tool)
	}

	if len(c.Download.AllowedDomains) == 0 {
		return fmt.Errorf("DOWNLOAD_ALLOWED_DOMAINS is required")
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("DOWNLOAD_TIMEOUT must be positive")
	}
	if c.Download.TokenTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_TOKEN_TTL must be positive")
	}
	if c.Download.StreamCleanupDelay < 0 {
		return fmt.Errorf("DOWNLOAD_STREAM_CLEANUP_DELAY must not be negative")
	}
	if c.Cleanup.Interval <= 0 || c.Cleanup.TokenSweepInterval <= 0 {
		return fmt.Errorf("cleanup intervals must be positive")
	}
	if c.Cleanup.MaxAge <= 0 {
		return fmt.Errorf("CLEANUP_MAX_AGE must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
