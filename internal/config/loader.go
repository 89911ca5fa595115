package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (ATELIER_CHANNEL_URL, ...).
const EnvPrefix = "ATELIER"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	dotEnv     []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetDotEnvFiles sets .env files loaded into the process environment before
// overrides are read. Missing files are ignored; variables already present in
// the environment win.
func (l *Loader) SetDotEnvFiles(paths ...string) {
	l.dotEnv = append([]string(nil), paths...)
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (l *Loader) loadDotEnv() error {
	for _, path := range l.dotEnv {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Client.StateFile = expandTilde(cfg.Client.StateFile)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// An overridden config dir is searched first so `config init` output is
	// picked up by the next run.
	if dir := os.Getenv(EnvPrefix + "_GLOBAL_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(expandTilde(dir))
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "atelier"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "atelier"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Unmarshal only sees env vars for nested keys that were bound explicitly.
	for _, key := range configKeys {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	v.AutomaticEnv()
}

// configKeys lists every key that supports an environment override.
var configKeys = []string{
	"global.data_dir",
	"global.config_dir",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
	"channel.url",
	"channel.dial_timeout",
	"channel.reconnect_attempts",
	"channel.reconnect_delay",
	"channel.operation_timeout",
	"channel.write_timeout",
	"channel.ping_interval",
	"client.viewer_uid",
	"client.state_file",
	"daemon.http_addr",
	"daemon.grpc_addr",
	"daemon.rate_limit",
	"daemon.rate_burst",
	"daemon.max_frame_bytes",
	"database.path",
	"database.max_connections",
	"database.busy_timeout_ms",
	"tui.theme",
	"tui.show_timestamps",
}

func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	v.SetDefault("channel.url", cfg.Channel.URL)
	v.SetDefault("channel.dial_timeout", cfg.Channel.DialTimeout)
	v.SetDefault("channel.reconnect_attempts", cfg.Channel.ReconnectAttempts)
	v.SetDefault("channel.reconnect_delay", cfg.Channel.ReconnectDelay)
	v.SetDefault("channel.operation_timeout", cfg.Channel.OperationTimeout)
	v.SetDefault("channel.write_timeout", cfg.Channel.WriteTimeout)
	v.SetDefault("channel.ping_interval", cfg.Channel.PingInterval)

	v.SetDefault("client.viewer_uid", cfg.Client.ViewerUID)
	v.SetDefault("client.state_file", cfg.Client.StateFile)

	v.SetDefault("daemon.http_addr", cfg.Daemon.HTTPAddr)
	v.SetDefault("daemon.grpc_addr", cfg.Daemon.GRPCAddr)
	v.SetDefault("daemon.rate_limit", cfg.Daemon.RateLimit)
	v.SetDefault("daemon.rate_burst", cfg.Daemon.RateBurst)
	v.SetDefault("daemon.max_frame_bytes", cfg.Daemon.MaxFrameBytes)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	v.SetDefault("tui.theme", cfg.TUI.Theme)
	v.SetDefault("tui.show_timestamps", cfg.TUI.ShowTimestamps)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. Used to apply CLI flag overrides.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Viper returns the underlying Viper instance for advanced use.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
