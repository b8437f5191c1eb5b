package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every configurable value for the exporter.
type Config struct {
	// Server
	Port int `mapstructure:"port"` // listen port for /metrics and /health

	// Sampling
	UpdateInterval   int  `mapstructure:"update_interval"`    // milliseconds between cycles
	EnableLogParsing bool `mapstructure:"enable_log_parsing"` // accepted for compatibility, unused

	// External services
	MisskeyURL string `mapstructure:"misskey_url"` // e.g. http://misskey:3000

	// Logging
	LogLevel  string `mapstructure:"log_level"`  // debug|info|warn|error
	LogFormat string `mapstructure:"log_format"` // json|console

	Database Database `mapstructure:"database"`
}

// Database holds the connection settings of the Misskey Postgres store.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// envKeys maps config keys onto the environment variable names the
// exporter has always used.
var envKeys = map[string]string{
	"port":               "PORT",
	"update_interval":    "UPDATE_INTERVAL",
	"enable_log_parsing": "ENABLE_LOG_PARSING",
	"misskey_url":        "MISSKEY_URL",
	"log_level":          "LOG_LEVEL",
	"log_format":         "LOG_FORMAT",
	"database.host":      "DB_HOST",
	"database.port":      "DB_PORT",
	"database.name":      "DB_NAME",
	"database.user":      "DB_USER",
	"database.password":  "DB_PASSWORD",
	"database.sslmode":   "DB_SSLMODE",
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"port":            "port",
	"update-interval": "update_interval",
	"misskey-url":     "misskey_url",
	"log-level":       "log_level",
	"log-format":      "log_format",
}

// Interval returns the sampling period as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Millisecond
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Database.Password != "" {
		c.Database.Password = "***"
	}
	return c
}

// RegisterFlags adds the exporter's flags to fs. Values are only applied
// by Load when a flag was set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("port", 9090, "HTTP listen port")
	fs.Int("update-interval", 60000, "Milliseconds between sampling cycles")
	fs.String("misskey-url", "http://localhost:3000", "Base URL of the Misskey server")
	fs.String("log-level", "info", "Log level (debug|info|warn|error)")
	fs.String("log-format", "json", "Log encoding (json|console)")
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags registered with RegisterFlags (fs may be nil)
//  2. environment variables (PORT, DB_HOST, ...)
//  3. a yaml file (./configs/config.yaml) if it exists.
//
// It returns a fully populated *Config or an error.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 9090)
	v.SetDefault("update_interval", 60000)
	v.SetDefault("enable_log_parsing", false)
	v.SetDefault("misskey_url", "http://localhost:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "misskey")
	v.SetDefault("database.user", "misskey")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	// Optional yaml file - useful for local dev or a k8s ConfigMap
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.MisskeyURL = strings.TrimRight(cfg.MisskeyURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update interval must be positive, got %d", c.UpdateInterval)
	}
	if c.MisskeyURL == "" {
		return fmt.Errorf("misskey url must not be empty")
	}
	return nil
}
