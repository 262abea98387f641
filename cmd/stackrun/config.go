package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/stackrun/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or change configuration",
	Long: `View or modify stackrun configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.
List values are comma separated.

Configuration is stored at ~/.config/stackrun/config.yaml
Project-specific overrides can be placed in .stackrun.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return configError(fmt.Errorf("loading config: %w", err))
		}

		switch len(args) {
		case 0:
			return displayAllConfig(cfg)
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return configError(err)
			}
			fmt.Println(value)
			return nil
		default:
			if err := config.Set(args[0], args[1]); err != nil {
				return configError(err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// displayAllConfig prints the effective configuration as YAML along with
// the files it was read from.
func displayAllConfig(cfg *config.Config) error {
	fmt.Printf("# user config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("# project config: %s\n", p)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(configTree(cfg))
}

// configTree flattens the known keys into a nested map keyed like the
// config file.
func configTree(cfg *config.Config) map[string]map[string]string {
	tree := make(map[string]map[string]string)
	for _, key := range config.Keys() {
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		value, err := getConfigValue(cfg, key)
		if err != nil {
			continue
		}
		if tree[section] == nil {
			tree[section] = make(map[string]string)
		}
		tree[section][name] = value
	}
	return tree
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "defaults.package_manager":
		return cfg.Defaults.PackageManager, nil
	case "defaults.task_runner":
		return cfg.Defaults.TaskRunner, nil
	case "defaults.parallel":
		return strconv.FormatBool(cfg.Defaults.Parallel), nil
	case "defaults.fallback":
		return strconv.FormatBool(cfg.Defaults.Fallback), nil
	case "defaults.bail":
		return strconv.FormatBool(cfg.Defaults.Bail), nil
	case "defaults.verbose":
		return strconv.FormatBool(cfg.Defaults.Verbose), nil
	case "defaults.cache":
		return cfg.Defaults.Cache, nil
	case "defaults.concurrency":
		return strconv.Itoa(cfg.Defaults.Concurrency), nil
	case "defaults.tasks_file":
		return cfg.Defaults.TasksFile, nil
	case "selector.order":
		return strings.Join(cfg.Selector.Order, ","), nil
	case "selector.cache_backend":
		return cfg.Selector.CacheBackend, nil
	case "selector.categories":
		parts := make([]string, 0, len(cfg.Selector.Categories))
		for _, c := range cfg.Selector.Categories {
			parts = append(parts, fmt.Sprintf("%s=%s", c.Name, strings.Join(c.Runners, "|")))
		}
		return strings.Join(parts, ","), nil
	case "selector.priority":
		return strings.Join(cfg.Selector.Priority, ","), nil
	case "detect.probe_timeout":
		return cfg.Detect.ProbeTimeout.String(), nil
	case "detect.concurrency":
		return strconv.Itoa(cfg.Detect.Concurrency), nil
	case "watch.paths":
		return strings.Join(cfg.Watch.Paths, ","), nil
	case "watch.ignore":
		return strings.Join(cfg.Watch.Ignore, ","), nil
	case "watch.debounce":
		return cfg.Watch.Debounce.String(), nil
	case "watch.queue_size":
		return strconv.Itoa(cfg.Watch.QueueSize), nil
	case "history.enabled":
		return strconv.FormatBool(cfg.History.Enabled), nil
	case "history.path":
		return cfg.History.Path, nil
	case "history.retention":
		return cfg.History.Retention.String(), nil
	case "logging.debug":
		return strconv.FormatBool(cfg.Logging.Debug), nil
	case "logging.path":
		return cfg.Logging.Path, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}
