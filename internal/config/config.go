// Package config handles configuration for sessionhub: the viper-loaded
// application config and the YAML registry of persisted session
// destinations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Index    IndexConfig    `mapstructure:"index"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// IndexConfig holds session indexing settings.
type IndexConfig struct {
	// Roots are directories whose subdirectories are encoded project names.
	Roots            []string `mapstructure:"roots"`
	StateDir         string   `mapstructure:"state_dir"`
	Persist          bool     `mapstructure:"persist"`
	IncludeSubagents bool     `mapstructure:"include_subagents"`
	MaxIndexAgeHours float64  `mapstructure:"max_index_age_hours"`
}

// WatcherConfig controls the fsnotify-driven auto refresh.
type WatcherConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SlackConfig holds the Slack bot settings.
type SlackConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
}

// TelegramConfig holds the Telegram bot settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from a file, the environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sessionhub")
		v.AddConfigPath("/etc/sessionhub")
	}

	v.SetEnvPrefix("SESSIONHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8970)

	v.SetDefault("index.roots", []string{filepath.Join(home, ".claude", "projects")})
	v.SetDefault("index.state_dir", filepath.Join(home, ".sessionhub"))
	v.SetDefault("index.persist", true)
	v.SetDefault("index.include_subagents", false)
	v.SetDefault("index.max_index_age_hours", 1.0)

	v.SetDefault("watcher.enabled", false)

	v.SetDefault("slack.enabled", false)
	v.SetDefault("telegram.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks that the configuration is usable.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	if len(cfg.Index.Roots) == 0 {
		return fmt.Errorf("index.roots must list at least one session root")
	}
	if cfg.Index.Persist && cfg.Index.StateDir == "" {
		return fmt.Errorf("index.state_dir is required when index.persist is set")
	}
	if cfg.Index.MaxIndexAgeHours <= 0 {
		return fmt.Errorf("index.max_index_age_hours must be positive")
	}
	if cfg.Slack.Enabled && cfg.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required when slack.enabled is set")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram.enabled is set")
	}
	return nil
}
