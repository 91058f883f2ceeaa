// Package config loads dialog's configuration from a YAML file and the
// environment, with environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultRelayURL is used when no relay is configured.
const DefaultRelayURL = "ws://localhost:10548"

// Config is the resolved application configuration.
type Config struct {
	// RelayURL is the websocket relay endpoint.
	RelayURL string `mapstructure:"relay_url" yaml:"relay_url"`

	// SyncMode selects the reconciliation strategy: auto, negentropy, or
	// subscribe.
	SyncMode string `mapstructure:"sync_mode" yaml:"sync_mode"`

	// DataDir is the root data directory; per-identity databases live in
	// subdirectories keyed by public key.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// LogFile, when set, routes logs to a rotating file instead of stderr.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Loader reads and watches configuration.
type Loader struct {
	v *viper.Viper
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dialog"
	}
	return filepath.Join(home, ".dialog")
}

// NewLoader builds a Loader with defaults, env bindings, and an optional
// explicit config file path. When path is empty the loader searches
// <data_dir> and ~/.config/dialog for config.yaml.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()

	v.SetDefault("relay_url", DefaultRelayURL)
	v.SetDefault("sync_mode", "auto")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("DIALOG")
	v.AutomaticEnv()
	// Historical variable names take precedence over the prefixed defaults.
	if err := v.BindEnv("relay_url", "DIALOG_RELAY", "DIALOG_RELAY_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("sync_mode", "DIALOG_SYNC_MODE"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("data_dir", "DIALOG_DATA_DIR"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "dialog"))
		}
	}

	// A missing config file is fine; defaults and env apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Loader{v: v}, nil
}

// Load resolves the current configuration.
func (l *Loader) Load() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Watch re-resolves the configuration whenever the underlying file changes
// and hands the result to onChange. Watching with no config file present is
// a no-op.
func (l *Loader) Watch(onChange func(Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// MarshalYAML renders a Config as YAML, for `dialog config show` and for
// writing a starter config file.
func MarshalYAML(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// WriteDefault writes a starter config file at path, refusing to overwrite.
func WriteDefault(path string, cfg Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	data, err := MarshalYAML(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
