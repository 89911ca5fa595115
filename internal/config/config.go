// Package config handles atelier configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure shared by atelier and atelierd.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Channel settings for the persistent connection to the daemon
	Channel ChannelConfig `yaml:"channel" mapstructure:"channel"`

	// Client settings for the local viewer
	Client ClientConfig `yaml:"client" mapstructure:"client"`

	// Daemon settings for atelierd
	Daemon DaemonConfig `yaml:"daemon" mapstructure:"daemon"`

	// Database settings for atelierd
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where atelier stores its data (default: ~/.local/share/atelier).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/atelier).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ChannelConfig contains the connection and reconnect policy.
type ChannelConfig struct {
	// URL is the websocket endpoint of the daemon.
	URL string `yaml:"url" mapstructure:"url"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// ReconnectAttempts is how many reconnects are tried before the channel fails.
	ReconnectAttempts int `yaml:"reconnect_attempts" mapstructure:"reconnect_attempts"`

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`

	// OperationTimeout bounds the wait for an acknowledgement.
	OperationTimeout time.Duration `yaml:"operation_timeout" mapstructure:"operation_timeout"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`

	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
}

// ClientConfig contains viewer-side settings.
type ClientConfig struct {
	// ViewerUID overrides the persisted viewer identity.
	ViewerUID string `yaml:"viewer_uid" mapstructure:"viewer_uid"`

	// StateFile is the persisted viewer state (default: DataDir/viewer.json).
	StateFile string `yaml:"state_file" mapstructure:"state_file"`
}

// DaemonConfig contains atelierd settings.
type DaemonConfig struct {
	// HTTPAddr serves /ws, /healthz and /metrics.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`

	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr" mapstructure:"grpc_addr"`

	// RateLimit is the per-connection emission rate (events per second).
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`

	// RateBurst is the per-connection burst size.
	RateBurst int `yaml:"rate_burst" mapstructure:"rate_burst"`

	// MaxFrameBytes bounds an inbound websocket frame.
	MaxFrameBytes int64 `yaml:"max_frame_bytes" mapstructure:"max_frame_bytes"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, high-contrast).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowTimestamps shows timestamps in the thread view.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "atelier"),
			ConfigDir: filepath.Join(homeDir, ".config", "atelier"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Channel: ChannelConfig{
			URL:               "ws://127.0.0.1:7480/ws",
			DialTimeout:       5 * time.Second,
			ReconnectAttempts: 10,
			ReconnectDelay:    500 * time.Millisecond,
			OperationTimeout:  10 * time.Second,
			WriteTimeout:      5 * time.Second,
			PingInterval:      25 * time.Second,
		},
		Daemon: DaemonConfig{
			HTTPAddr:      "127.0.0.1:7480",
			GRPCAddr:      "127.0.0.1:7481",
			RateLimit:     20,
			RateBurst:     40,
			MaxFrameBytes: 64 * 1024,
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/atelierd.db
			MaxConnections: 4,
			BusyTimeoutMs:  5000,
		},
		TUI: TUIConfig{
			Theme:          "default",
			ShowTimestamps: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Channel.URL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("channel.url must be a ws:// or wss:// URL")
	}
	if c.Channel.ReconnectAttempts < 0 {
		return fmt.Errorf("channel.reconnect_attempts must not be negative")
	}
	if c.Channel.ReconnectDelay < 0 {
		return fmt.Errorf("channel.reconnect_delay must not be negative")
	}
	if c.Channel.OperationTimeout < 100*time.Millisecond {
		return fmt.Errorf("channel.operation_timeout must be at least 100ms")
	}
	if c.Channel.DialTimeout <= 0 {
		return fmt.Errorf("channel.dial_timeout must be positive")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Daemon.RateLimit <= 0 || c.Daemon.RateBurst < 1 {
		return fmt.Errorf("daemon.rate_limit and daemon.rate_burst must be positive")
	}
	if c.Daemon.MaxFrameBytes < 1024 {
		return fmt.Errorf("daemon.max_frame_bytes must be at least 1024")
	}
	switch c.TUI.Theme {
	case "default", "high-contrast":
	default:
		return fmt.Errorf("tui.theme must be one of default, high-contrast")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "atelierd.db")
}

// StatePath returns the persisted viewer state path.
func (c *Config) StatePath() string {
	if c.Client.StateFile != "" {
		return c.Client.StateFile
	}
	return filepath.Join(c.Global.DataDir, "viewer.json")
}
