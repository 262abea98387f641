package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// DefaultTasksFile is looked up in the project root when no path is given.
const DefaultTasksFile = "stackrun.tasks.yaml"

// tasksFile represents the tasks file structure.
type tasksFile struct {
	// Inherit keeps the built-in tasks underneath the file's tasks. Defaults to true.
	Inherit *bool       `yaml:"inherit"`
	Tasks   []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	Name         string          `yaml:"name"`
	Description  string          `yaml:"description"`
	Command      string          `yaml:"command"`
	Runner       string          `yaml:"runner"`
	DependsOn    []string        `yaml:"depends_on"`
	Fallbacks    []fallbackEntry `yaml:"fallbacks"`
	ParallelSafe *bool           `yaml:"parallel_safe"`
	Cacheable    bool            `yaml:"cacheable"`
	Timeout      string          `yaml:"timeout"`
	Retries      int             `yaml:"retries"`
}

type fallbackEntry struct {
	Runner  string `yaml:"runner"`
	Command string `yaml:"command"`
}

// Load builds the registry for a project: built-in defaults overlaid with
// the tasks file. An empty path means <projectRoot>/stackrun.tasks.yaml,
// which may be absent. An explicit path must exist.
func Load(projectRoot, path string) (*Registry, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(projectRoot, DefaultTasksFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	return Parse(data, Defaults())
}

// Parse decodes a tasks file and overlays it on base. Tasks with a name
// already in base replace it in place; new tasks are appended in file order.
// base is not modified.
func Parse(data []byte, base *Registry) (*Registry, error) {
	var file tasksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}

	r := New()
	if base != nil && (file.Inherit == nil || *file.Inherit) {
		r = base.Clone()
	}

	for i, entry := range file.Tasks {
		def, err := entry.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if err := r.replace(def); err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return r, nil
}

// toDefinition converts a file entry, rejecting unknown runner ids early.
func (e taskEntry) toDefinition() (models.TaskDefinition, error) {
	def := models.TaskDefinition{
		Name:         e.Name,
		Description:  e.Description,
		Command:      e.Command,
		Dependencies: e.DependsOn,
		Cacheable:    e.Cacheable,
		Retries:      e.Retries,
		ParallelSafe: true,
	}
	if e.ParallelSafe != nil {
		def.ParallelSafe = *e.ParallelSafe
	}

	runner, err := models.ParseBackend(e.Runner)
	if err != nil {
		return def, &ValidationError{Task: e.Name, Reason: err.Error()}
	}
	def.PreferredRunner = runner

	for j, fb := range e.Fallbacks {
		b, err := models.ParseBackend(fb.Runner)
		if err != nil {
			return def, &ValidationError{Task: e.Name, Reason: fmt.Sprintf("fallback %d: %v", j, err)}
		}
		def.Fallbacks = append(def.Fallbacks, models.Fallback{Runner: b, Command: fb.Command})
	}

	if e.Timeout != "" {
		d, err := time.ParseDuration(e.Timeout)
		if err != nil {
			return def, &ValidationError{Task: e.Name, Reason: fmt.Sprintf("invalid timeout %q", e.Timeout)}
		}
		def.Timeout = d
	}
	return def, nil
}
