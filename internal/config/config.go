package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for jsonlog
type Config struct {
	// Default output
	LogFile     string `mapstructure:"log_file"`
	Label       string `mapstructure:"label"`
	MaxEntries  int    `mapstructure:"max_entries"`
	FlushPolicy string `mapstructure:"flush_policy"` // always, manual
	LogLevel    string `mapstructure:"log_level"`

	// Seconds between retention passes, 0 disables the worker
	TrimInterval int `mapstructure:"trim_interval"`

	// SQLite database holding additional JSON log targets
	TargetsDB string `mapstructure:"targets_db"`

	// Inspection server
	Listen string `mapstructure:"listen"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// TrimEvery returns the retention interval, zero when retention passes are disabled
func (c *Config) TrimEvery() time.Duration {
	return time.Duration(c.TrimInterval) * time.Second
}

// Load loads configuration from various sources
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Bind command line flags
	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Read from config file if specified
	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("JSONLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_file", "./jsonlog.json")
	v.SetDefault("label", "jsonlog")
	v.SetDefault("max_entries", 2000)
	v.SetDefault("flush_policy", "always")
	v.SetDefault("log_level", "info")
	v.SetDefault("trim_interval", 0)
	v.SetDefault("targets_db", "")
	v.SetDefault("listen", ":9400")

	// Metrics defaults
	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindFlags binds the flags a command defines. Commands only define the
// flags they use, so missing ones are skipped.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"log-file":      "log_file",
		"label":         "label",
		"max-entries":   "max_entries",
		"flush-policy":  "flush_policy",
		"log-level":     "log_level",
		"trim-interval": "trim_interval",
		"targets-db":    "targets_db",
		"listen":        "listen",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.LogFile == "" {
		return fmt.Errorf("log_file is required: specify via --log-file flag, config file, or JSONLOG_LOG_FILE environment variable")
	}
	if cfg.Label == "" {
		return fmt.Errorf("label must not be empty")
	}
	if cfg.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", cfg.MaxEntries)
	}
	if cfg.TrimInterval < 0 {
		return fmt.Errorf("trim_interval must not be negative, got %d", cfg.TrimInterval)
	}

	cfg.FlushPolicy = strings.ToLower(strings.TrimSpace(cfg.FlushPolicy))
	if cfg.FlushPolicy != "always" && cfg.FlushPolicy != "manual" {
		return fmt.Errorf("flush_policy must be 'always' or 'manual', got %q", cfg.FlushPolicy)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = "/" + cfg.Metrics.Path
	}

	// Make the log file absolute and make sure its directory exists
	if abs, err := filepath.Abs(cfg.LogFile); err == nil {
		cfg.LogFile = abs
	}
	dir := filepath.Dir(cfg.LogFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logrus.Debugf("Creating log directory: %s", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
