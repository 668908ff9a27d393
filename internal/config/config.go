// Package config loads rescuex settings from defaults, an optional YAML file
// and RESCUEX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable key
const EnvPrefix = "RESCUEX"

// Config holds all application configuration
type Config struct {
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`

	RetentionDays int `mapstructure:"retention_days"`
	// RetentionDaysLocked is set when retention comes from env or file and
	// must not be overridden by the stored setting.
	RetentionDaysLocked bool `mapstructure:"-"`

	// AllowedPaths restricts scan roots and recovery destinations; empty
	// means unrestricted.
	AllowedPaths []string `mapstructure:"-"`

	CategoriesFile string `mapstructure:"categories_file"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// ProgressRate caps progress notifications per second per scan
	ProgressRate float64 `mapstructure:"progress_rate"`
}

// Load reads configuration. configFile may be empty, in which case
// rescuex.yaml is looked up in the working directory and the user config
// directory; a missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("rescuex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "rescuex"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "rescuex.db")
	}
	cfg.DBPath = ExpandPath(cfg.DBPath)
	cfg.CategoriesFile = ExpandPath(cfg.CategoriesFile)
	cfg.AllowedPaths = readPaths(v, "allowed_paths")
	cfg.RetentionDaysLocked = v.InConfig("retention_days") || os.Getenv(EnvPrefix+"_RETENTION_DAYS") != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("db_path", "")
	v.SetDefault("retention_days", 30)
	v.SetDefault("allowed_paths", "")
	v.SetDefault("categories_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("progress_rate", 10.0)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 1 and 365, got %d", c.RetentionDays)
	}
	if c.ProgressRate <= 0 {
		return fmt.Errorf("progress_rate must be positive, got %v", c.ProgressRate)
	}
	return nil
}

// readPaths accepts either a YAML list or a comma-separated string (the form
// environment variables take).
func readPaths(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case string:
		raw = strings.Split(val, ",")
	default:
		raw = v.GetStringSlice(key)
	}

	var paths []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, ExpandPath(p))
		}
	}
	return paths
}

// ExpandPath expands a leading ~ to the user's home directory and cleans
// the result. Relative paths stay relative.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

// IsPathAllowed reports whether path lies inside one of the allowed paths.
// An empty allow-list permits everything.
func (c *Config) IsPathAllowed(path string) bool {
	if len(c.AllowedPaths) == 0 {
		return true
	}
	path = filepath.Clean(path)
	for _, allowed := range c.AllowedPaths {
		allowed = filepath.Clean(allowed)
		if path == allowed {
			return true
		}
		rel, err := filepath.Rel(allowed, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
