// Package config loads the optional user configuration file and
// OPSAUDIT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// OPSAUDIT_AWS_FALLBACK_REGION.
const EnvPrefix = "OPSAUDIT"

// Config is the top-level application configuration.
// It is loaded from ~/.config/opsaudit/config.yaml and must never be
// committed with real secrets.
type Config struct {
	AWS    AWSConfig    `mapstructure:"aws"`
	Log    LogConfig    `mapstructure:"log"`
	Notify NotifyConfig `mapstructure:"notify"`
}

// AWSConfig holds AWS-specific defaults used when flags are not provided.
type AWSConfig struct {
	// DefaultProfile is used when no --profile flag is provided.
	DefaultProfile string `mapstructure:"default_profile"`

	// FallbackRegion is used when the profile has no region and region
	// discovery fails.
	FallbackRegion string `mapstructure:"fallback_region"`

	// MaxAttempts and MaxBackoff tune the SDK standard retryer.
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NotifyConfig configures run notifications.
type NotifyConfig struct {
	// SlackWebhook is an incoming-webhook URL. Treat it as a secret.
	SlackWebhook string `mapstructure:"slack_webhook"`
}

// Loader is the interface for reading Config.
type Loader interface {
	// Load reads and parses the configuration.
	Load() (*Config, error)

	// ConfigPath returns the absolute path to the configuration file.
	ConfigPath() string
}

// FileLoader reads a YAML file at Path, or DefaultPath when Path is empty.
// A missing default file is not an error; a missing explicit file is.
type FileLoader struct {
	Path string
}

// DefaultPath returns ~/.config/opsaudit/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opsaudit", "config.yaml")
}

// ConfigPath implements Loader.
func (l FileLoader) ConfigPath() string {
	if l.Path != "" {
		return l.Path
	}
	return DefaultPath()
}

// Load implements Loader.
func (l FileLoader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := l.ConfigPath(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if l.Path != "" || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Load is shorthand for FileLoader{Path: path}.Load().
func Load(path string) (*Config, error) {
	return FileLoader{Path: path}.Load()
}

// setDefaults registers every key so AutomaticEnv overrides apply on
// Unmarshal even when the file omits the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.default_profile", "")
	v.SetDefault("aws.fallback_region", "us-east-1")
	v.SetDefault("aws.max_attempts", 5)
	v.SetDefault("aws.max_backoff", 20*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("notify.slack_webhook", "")
}
