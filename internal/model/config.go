package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// HTTPPort is the port the JSON/SSE presentation boundary listens on.
	HTTPPort int `mapstructure:"http_port" yaml:"http_port"`

	// DBPath is the location of the local account database.
	// Empty means the default path next to the config file.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// Domain is the mail domain new mailboxes are provisioned on.
	Domain string `mapstructure:"domain" yaml:"domain"`

	// ProviderURL is the multiplexed mailbox provisioning endpoint.
	ProviderURL string `mapstructure:"provider_url" yaml:"provider_url"`

	// PollIntervalSec is how often (in seconds) the inbox auto-refreshes.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// MaxAccounts caps how many accounts the boundary accepts.
	MaxAccounts int `mapstructure:"max_accounts" yaml:"max_accounts"`

	// LogLevel is the logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/webmail/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "webmail", "config.yaml")
}

// DefaultDBPath returns the default location of the account database,
// next to the configuration file.
func DefaultDBPath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "webmail.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		HTTPPort:        8025,
		Domain:          "x69x.fun",
		ProviderURL:     "https://demo.x69x.fun/functions/v1/mailcow-api",
		PollIntervalSec: 30,
		MaxAccounts:     20,
		LogLevel:        "info",
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with WEBMAIL_ override file values.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("webmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("http_port", 8025)
	v.SetDefault("domain", "x69x.fun")
	v.SetDefault("provider_url", "https://demo.x69x.fun/functions/v1/mailcow-api")
	v.SetDefault("poll_interval_sec", 30)
	v.SetDefault("max_accounts", 20)
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

	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 30
	}
	if cfg.MaxAccounts <= 0 {
		cfg.MaxAccounts = 20
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("http_port", cfg.HTTPPort)
	v.Set("db_path", cfg.DBPath)
	v.Set("domain", cfg.Domain)
	v.Set("provider_url", cfg.ProviderURL)
	v.Set("poll_interval_sec", cfg.PollIntervalSec)
	v.Set("max_accounts", cfg.MaxAccounts)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
