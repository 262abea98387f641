package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/stackrun/internal/config"
	"github.com/ShayCichocki/stackrun/internal/detect"
	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/internal/orchestrator"
	"github.com/ShayCichocki/stackrun/internal/registry"
	"github.com/ShayCichocki/stackrun/internal/selector"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// debugEnv enables [DEBUG] prints and the debug log file.
const debugEnv = "STACKRUN_DEBUG"

// project is the configuration and task registry of one invocation.
type project struct {
	cfg      *config.Config
	root     string
	registry *registry.Registry
	policy   selector.Policy
}

// loadProject loads config, the task registry and the selector policy.
// An empty tasksFile falls back to defaults.tasks_file, resolved against the
// project root.
func loadProject(tasksFile string) (*project, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, configError(fmt.Errorf("loading config: %w", err))
	}

	root, err := config.ProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	if tasksFile == "" && cfg.Defaults.TasksFile != "" {
		tasksFile = cfg.Defaults.TasksFile
		if !filepath.IsAbs(tasksFile) {
			tasksFile = filepath.Join(root, tasksFile)
		}
	}

	reg, err := registry.Load(root, tasksFile)
	if err != nil {
		return nil, configError(fmt.Errorf("loading tasks: %w", err))
	}

	policy, err := selector.FromConfig(cfg.Selector)
	if err != nil {
		return nil, configError(err)
	}

	return &project{cfg: cfg, root: root, registry: reg, policy: policy}, nil
}

// debugEnabled reports whether debug output was requested.
func (p *project) debugEnabled() bool {
	return p.cfg.Logging.Debug || os.Getenv(debugEnv) != ""
}

// logger opens the debug log when enabled, otherwise returns a no-op logger.
func (p *project) logger() *orchestrator.DebugLogger {
	if !p.debugEnabled() {
		return orchestrator.NopLogger()
	}
	if p.cfg.Logging.Path == "" {
		return orchestrator.NewDebugLoggerForProject(p.root)
	}
	l, err := orchestrator.NewDebugLogger(p.cfg.Logging.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log disabled: %v\n", err)
		return orchestrator.NopLogger()
	}
	return l
}

// detector builds a capability detector using the detect config section.
func (p *project) detector(runner iexec.CommandRunner, logger *orchestrator.DebugLogger) *detect.Detector {
	return detect.New(runner, p.root,
		detect.WithProbeTimeout(p.cfg.Detect.ProbeTimeout),
		detect.WithConcurrency(p.cfg.Detect.Concurrency),
		detect.WithDebugLog(logger.Log),
	)
}

// preferences resolves the global runner preferences, letting non-empty
// flag values override the configured defaults.
func (p *project) preferences(taskRunner, packageManager, cache string) (selector.Preferences, error) {
	var prefs selector.Preferences

	tr := firstNonEmpty(taskRunner, p.cfg.Defaults.TaskRunner)
	if tr != "" {
		b, err := models.ParseBackend(tr)
		if err != nil {
			return prefs, configError(fmt.Errorf("--task-runner: %w", err))
		}
		prefs.TaskRunner = b
	}

	pm := firstNonEmpty(packageManager, p.cfg.Defaults.PackageManager)
	if pm != "" {
		b, err := models.ParseBackend(pm)
		if err != nil {
			return prefs, configError(fmt.Errorf("--package-manager: %w", err))
		}
		if b.Kind() != models.KindPackageManager {
			return prefs, configError(fmt.Errorf("--package-manager: %s is not a package manager", b))
		}
		prefs.PackageManager = b
	}

	mode, err := models.ParseCacheMode(firstNonEmpty(cache, p.cfg.Defaults.Cache))
	if err != nil {
		return prefs, configError(fmt.Errorf("--cache: %w", err))
	}
	prefs.Cache = mode

	return prefs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// taskNames merges positional task names with --task values, accepting
// comma separated lists and dropping duplicates.
func taskNames(args, flagValues []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range append(append([]string(nil), args...), flagValues...) {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// splitCSV splits comma separated flag values.
func splitCSV(values []string) []string {
	return taskNames(nil, values)
}
