// Package config handles configuration loading and management for stackrun.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// ProjectConfigName is the project-level override file.
const ProjectConfigName = ".stackrun.yaml"

// EnvPrefix prefixes environment overrides, e.g. STACKRUN_DEFAULTS_BAIL=true.
const EnvPrefix = "STACKRUN"

// Config holds all configuration for stackrun.
type Config struct {
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Selector SelectorConfig `mapstructure:"selector"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Watch    WatchConfig    `mapstructure:"watch"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DefaultsConfig holds run defaults that CLI flags override.
type DefaultsConfig struct {
	// PackageManager is the global default package manager backend.
	PackageManager string `mapstructure:"package_manager"`
	// TaskRunner is the global default task pipeline backend.
	TaskRunner  string `mapstructure:"task_runner"`
	Parallel    bool   `mapstructure:"parallel"`
	Fallback    bool   `mapstructure:"fallback"`
	Bail        bool   `mapstructure:"bail"`
	Verbose     bool   `mapstructure:"verbose"`
	Cache       string `mapstructure:"cache"`
	Concurrency int    `mapstructure:"concurrency"`
	// TasksFile overrides the project tasks file location.
	TasksFile string `mapstructure:"tasks_file"`
}

// SelectorConfig holds the runner selection policy.
type SelectorConfig struct {
	// Order lists selection steps: preferred, cache, category, default, priority.
	Order []string `mapstructure:"order"`
	// CacheBackend is preferred for cacheable tasks.
	CacheBackend string           `mapstructure:"cache_backend"`
	Categories   []CategoryConfig `mapstructure:"categories"`
	// Priority is the last-resort backend order.
	Priority []string `mapstructure:"priority"`
}

// CategoryConfig maps task name patterns to preferred backends.
type CategoryConfig struct {
	Name     string   `mapstructure:"name"`
	Patterns []string `mapstructure:"patterns"`
	Runners  []string `mapstructure:"runners"`
}

// DetectConfig holds capability probe settings.
type DetectConfig struct {
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Paths     []string      `mapstructure:"paths"`
	Ignore    []string      `mapstructure:"ignore"`
	Debounce  time.Duration `mapstructure:"debounce"`
	QueueSize int           `mapstructure:"queue_size"`
}

// HistoryConfig holds run history persistence settings.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path overrides the project database location.
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	Debug bool   `mapstructure:"debug"`
	Path  string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (STACKRUN_*)
// 2. Project config (.stackrun.yaml in current directory or parent)
// 3. User config (~/.config/stackrun/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.History.Path = os.ExpandEnv(cfg.History.Path)
	cfg.Logging.Path = os.ExpandEnv(cfg.Logging.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv enables STACKRUN_SECTION_KEY overrides.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate rejects unknown backend ids and cache modes early.
func (c *Config) Validate() error {
	for key, value := range map[string]string{
		"defaults.package_manager": c.Defaults.PackageManager,
		"defaults.task_runner":     c.Defaults.TaskRunner,
		"selector.cache_backend":   c.Selector.CacheBackend,
	} {
		if value == "" {
			continue
		}
		if _, err := models.ParseBackend(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, err := models.ParseCacheMode(c.Defaults.Cache); err != nil {
		return fmt.Errorf("defaults.cache: %w", err)
	}
	if _, err := models.ParseBackends(c.Selector.Priority); err != nil {
		return fmt.Errorf("selector.priority: %w", err)
	}
	for _, cat := range c.Selector.Categories {
		if _, err := models.ParseBackends(cat.Runners); err != nil {
			return fmt.Errorf("selector.categories[%s]: %w", cat.Name, err)
		}
	}
	if c.Defaults.Concurrency < 0 {
		return fmt.Errorf("defaults.concurrency must be >= 0, got %d", c.Defaults.Concurrency)
	}
	return nil
}

// Set writes a single key to the user config file, creating it if needed.
// Only keys with a built-in default are accepted.
func Set(key, value string) error {
	key = strings.ToLower(key)
	defaults := viper.New()
	setDefaults(defaults)
	if !defaults.IsSet(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading user config: %w", err)
		}
	}
	if _, isList := defaults.Get(key).([]string); isList {
		v.Set(key, splitList(value))
	} else {
		v.Set(key, value)
	}

	// Validate the merged result before writing.
	check := viper.New()
	setDefaults(check)
	if err := check.MergeConfigMap(v.AllSettings()); err != nil {
		return fmt.Errorf("merging config: %w", err)
	}
	if _, err := unmarshal(check); err != nil {
		return err
	}

	return v.WriteConfigAs(configPath)
}

// splitList splits a comma separated flag or config value.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Keys returns every known configuration key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// ProjectRoot returns the directory holding the project config, or the
// current directory when there is none.
func ProjectRoot() (string, error) {
	if p := findProjectConfig(); p != "" {
		return filepath.Dir(p), nil
	}
	return os.Getwd()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("defaults.package_manager", d.Defaults.PackageManager)
	v.SetDefault("defaults.task_runner", d.Defaults.TaskRunner)
	v.SetDefault("defaults.parallel", d.Defaults.Parallel)
	v.SetDefault("defaults.fallback", d.Defaults.Fallback)
	v.SetDefault("defaults.bail", d.Defaults.Bail)
	v.SetDefault("defaults.verbose", d.Defaults.Verbose)
	v.SetDefault("defaults.cache", d.Defaults.Cache)
	v.SetDefault("defaults.concurrency", d.Defaults.Concurrency)
	v.SetDefault("defaults.tasks_file", d.Defaults.TasksFile)

	v.SetDefault("selector.order", d.Selector.Order)
	v.SetDefault("selector.cache_backend", d.Selector.CacheBackend)
	categories := make([]map[string]interface{}, 0, len(d.Selector.Categories))
	for _, c := range d.Selector.Categories {
		categories = append(categories, map[string]interface{}{
			"name":     c.Name,
			"patterns": c.Patterns,
			"runners":  c.Runners,
		})
	}
	v.SetDefault("selector.categories", categories)
	v.SetDefault("selector.priority", d.Selector.Priority)

	v.SetDefault("detect.probe_timeout", d.Detect.ProbeTimeout.String())
	v.SetDefault("detect.concurrency", d.Detect.Concurrency)

	v.SetDefault("watch.paths", d.Watch.Paths)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("watch.debounce", d.Watch.Debounce.String())
	v.SetDefault("watch.queue_size", d.Watch.QueueSize)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.retention", d.History.Retention.String())

	v.SetDefault("logging.debug", d.Logging.Debug)
	v.SetDefault("logging.path", d.Logging.Path)
}

// getUserConfigDir returns the XDG config directory for stackrun.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stackrun")
	}

	// Fall back to ~/.config/stackrun
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stackrun")
	}
	return filepath.Join(home, ".config", "stackrun")
}

// findProjectConfig searches for .stackrun.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Parallel:    true,
			Fallback:    true,
			Cache:       string(models.CacheConservative),
			Concurrency: 0,
		},
		Selector: SelectorConfig{
			Order:        []string{"preferred", "cache", "category", "default", "priority"},
			CacheBackend: string(models.BackendTurbo),
			Categories: []CategoryConfig{
				{
					Name:     "test",
					Patterns: []string{"test", "test:*", "*:test", "unit*"},
					Runners:  []string{"vitest", "jest"},
				},
				{
					Name:     "e2e",
					Patterns: []string{"e2e", "e2e:*", "*:e2e", "playwright*"},
					Runners:  []string{"playwright"},
				},
			},
			Priority: []string{"turbo", "nx", "lerna", "pnpm", "yarn", "npm", "bun", "vitest", "jest", "playwright"},
		},
		Detect: DetectConfig{
			ProbeTimeout: 5 * time.Second,
			Concurrency:  4,
		},
		Watch: WatchConfig{
			Paths:     []string{"."},
			Ignore:    []string{"**/node_modules/**", "**/.git/**", "**/dist/**", "**/build/**", "**/.turbo/**", "**/.next/**", "**/.stackrun/**", "**/coverage/**"},
			Debounce:  300 * time.Millisecond,
			QueueSize: 64,
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
	}
}
