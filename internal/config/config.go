// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"macusers/internal/accounts"
)

// EnvPrefix is prepended to every environment override, e.g. MACUSERS_TIMEOUT
const EnvPrefix = "MACUSERS"

// Config holds all configuration for macusers
type Config struct {
	Tools       accounts.Tools `mapstructure:"tools"`
	Timeout     time.Duration  `mapstructure:"timeout"` // Per-command timeout
	LogFile     string         `mapstructure:"log_file"`
	Debug       bool           `mapstructure:"debug"`
	DBPath      string         `mapstructure:"db_path"`
	ExcludeRoot bool           `mapstructure:"exclude_root"`
	PrimaryGID  int            `mapstructure:"primary_gid"` // 0 disables the filter
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Tools:   accounts.DefaultTools(),
		Timeout: 30 * time.Second,
		LogFile: "STDERR",
		DBPath:  defaultDBPath(),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "macusers", "snapshots.db")
	}
	return filepath.Join(home, "Library", "Application Support", "macusers", "snapshots.db")
}

// Load reads configuration from file and environment.
// Priority (highest to lowest): CLI flags > Env vars > Config file > Defaults
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variable overrides; nested keys use underscores (MACUSERS_TOOLS_DSCL)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind config keys
	v.SetDefault("tools.dscl", cfg.Tools.Dscl)
	v.SetDefault("tools.stat", cfg.Tools.Stat)
	v.SetDefault("tools.defaults", cfg.Tools.Defaults)
	v.SetDefault("tools.dsmemberutil", cfg.Tools.Dsmemberutil)
	v.SetDefault("tools.diskutil", cfg.Tools.Diskutil)
	v.SetDefault("tools.fdesetup", cfg.Tools.Fdesetup)
	v.SetDefault("tools.sysadminctl", cfg.Tools.Sysadminctl)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("exclude_root", cfg.ExcludeRoot)
	v.SetDefault("primary_gid", cfg.PrimaryGID)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Tools = cfg.Tools.WithDefaults()

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.PrimaryGID < 0 {
		return fmt.Errorf("primary_gid must be >= 0")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path is required")
	}
	for name, path := range map[string]string{
		"dscl":         c.Tools.Dscl,
		"stat":         c.Tools.Stat,
		"defaults":     c.Tools.Defaults,
		"dsmemberutil": c.Tools.Dsmemberutil,
		"diskutil":     c.Tools.Diskutil,
		"fdesetup":     c.Tools.Fdesetup,
		"sysadminctl":  c.Tools.Sysadminctl,
	} {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("tools.%s must be an absolute path, got %q", name, path)
		}
	}
	return nil
}

// Flags carries CLI flag values; zero values leave the config untouched
type Flags struct {
	LogFile        string
	Timeout        time.Duration
	Debug          bool
	ExcludeRoot    bool
	ExcludeRootSet bool
	PrimaryGID     int
	PrimaryGIDSet  bool
}

// ApplyFlags merges CLI flag values into config (non-empty values override)
func (c *Config) ApplyFlags(f Flags) {
	if f.LogFile != "" {
		c.LogFile = f.LogFile
	}
	if f.Timeout > 0 {
		c.Timeout = f.Timeout
	}
	if f.Debug {
		c.Debug = true
	}
	if f.ExcludeRootSet {
		c.ExcludeRoot = f.ExcludeRoot
	}
	if f.PrimaryGIDSet {
		c.PrimaryGID = f.PrimaryGID
	}
}

// ListOptions returns the roster options the config asks for
func (c *Config) ListOptions() accounts.ListOptions {
	opts := accounts.ListOptions{ExcludeRoot: c.ExcludeRoot}
	if c.PrimaryGID > 0 {
		gid := c.PrimaryGID
		opts.PrimaryGID = &gid
	}
	return opts
}

// configFile represents the YAML structure for saving config
type configFile struct {
	Tools       accounts.Tools `yaml:"tools"`
	Timeout     string         `yaml:"timeout"`
	LogFile     string         `yaml:"log_file,omitempty"`
	Debug       bool           `yaml:"debug"`
	DBPath      string         `yaml:"db_path"`
	ExcludeRoot bool           `yaml:"exclude_root"`
	PrimaryGID  int            `yaml:"primary_gid"`
}

// SaveToFile writes the configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cf := configFile{
		Tools:       c.Tools,
		Timeout:     c.Timeout.String(),
		LogFile:     c.LogFile,
		Debug:       c.Debug,
		DBPath:      c.DBPath,
		ExcludeRoot: c.ExcludeRoot,
		PrimaryGID:  c.PrimaryGID,
	}

	data, err := yaml.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
