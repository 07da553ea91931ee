package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailboxConfig holds the IMAP connection settings for the monitored
// order mailbox.
type MailboxConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the IMAP server port.
	Port string `mapstructure:"port" yaml:"port"`

	// Username is the mailbox login name.
	Username string `mapstructure:"username" yaml:"username"`

	// Password is the mailbox secret. When empty, the service falls
	// back to the OS keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// TLS selects implicit TLS; when false, STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// MonitorConfig controls the polling behavior of the ingestion pipeline.
type MonitorConfig struct {
	// Enabled controls whether the pipeline may run at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// AutoStart starts monitoring immediately on boot.
	AutoStart bool `mapstructure:"auto_start" yaml:"auto_start"`

	// PollIntervalMin is how often (in minutes) to poll the mailbox.
	PollIntervalMin int `mapstructure:"poll_interval_min" yaml:"poll_interval_min"`

	// SearchWindowDays is the lower-bound window for the mailbox search.
	SearchWindowDays int `mapstructure:"search_window_days" yaml:"search_window_days"`

	// SubjectFilter restricts the search to messages whose subject
	// contains this substring. Empty means no subject restriction.
	SubjectFilter string `mapstructure:"subject_filter" yaml:"subject_filter"`

	// RunTimeoutSec bounds a single poll cycle.
	RunTimeoutSec int `mapstructure:"run_timeout_sec" yaml:"run_timeout_sec"`

	// Workers caps the number of messages processed concurrently
	// within a batch.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// DatabaseConfig holds the local SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level service configuration.
type AppConfig struct {
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailorder/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailorder", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailbox: MailboxConfig{
			Port: "993",
			TLS:  true,
		},
		Monitor: MonitorConfig{
			PollIntervalMin:  5,
			SearchWindowDays: 7,
			RunTimeoutSec:    120,
			Workers:          4,
		},
		Database: DatabaseConfig{
			Path: "mailorder.db",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("mailbox.port", "993")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("monitor.poll_interval_min", 5)
	v.SetDefault("monitor.search_window_days", 7)
	v.SetDefault("monitor.run_timeout_sec", 120)
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("database.path", "mailorder.db")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports whether the configuration allows monitoring to run.
// A disabled pipeline or missing credentials is not an error; the
// returned reason explains why monitoring stays off.
func (c *AppConfig) Validate() (ok bool, reason string) {
	if !c.Monitor.Enabled {
		return false, "monitoring disabled in configuration"
	}
	if c.Mailbox.Host == "" {
		return false, "mailbox host not configured"
	}
	if c.Mailbox.Username == "" {
		return false, "mailbox username not configured"
	}
	if c.Mailbox.Password == "" {
		return false, "mailbox password not configured"
	}
	return true, ""
}
