// Package registry holds the static table of task definitions.
//
// A Registry is populated once at process start (built-in defaults, then an
// optional tasks file) and is read-only afterwards. Definitions are validated
// on registration so that unknown backends and malformed fallback chains are
// rejected before anything runs.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// ErrInvalidTask is matched by every ValidationError.
var ErrInvalidTask = errors.New("invalid task definition")

// ValidationError describes why a task definition was rejected.
type ValidationError struct {
	Task   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("invalid task definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid task %q: %s", e.Task, e.Reason)
}

// Is reports whether target is ErrInvalidTask.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidTask
}

// Registry maps task names to definitions, preserving registration order.
type Registry struct {
	tasks map[string]*models.TaskDefinition
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tasks: make(map[string]*models.TaskDefinition),
	}
}

// Register validates and adds a definition. Names must be unique.
func (r *Registry) Register(def models.TaskDefinition) error {
	if err := Validate(&def); err != nil {
		return err
	}
	if _, exists := r.tasks[def.Name]; exists {
		return &ValidationError{Task: def.Name, Reason: "already registered"}
	}
	r.tasks[def.Name] = def.Clone()
	r.order = append(r.order, def.Name)
	return nil
}

// replace validates def and swaps it in place of an existing definition,
// keeping the original registration position. New names are appended.
func (r *Registry) replace(def models.TaskDefinition) error {
	if err := Validate(&def); err != nil {
		return err
	}
	if _, exists := r.tasks[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tasks[def.Name] = def.Clone()
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (*models.TaskDefinition, bool) {
	def, ok := r.tasks[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// Has reports whether the name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tasks[name]
	return ok
}

// Names returns task names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Index returns the registration position of a task, or -1 if unknown.
func (r *Registry) Index(name string) int {
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	return len(r.order)
}

// Dependencies returns the dependency names of a task without copying the
// whole definition. Unknown tasks return nil.
func (r *Registry) Dependencies(name string) []string {
	def, ok := r.tasks[name]
	if !ok {
		return nil
	}
	return def.Dependencies
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	c := New()
	for _, name := range r.order {
		c.tasks[name] = r.tasks[name].Clone()
		c.order = append(c.order, name)
	}
	return c
}

// Validate checks a single definition in isolation. Dependencies on tasks
// missing from the registry are reported later by the resolver.
func Validate(def *models.TaskDefinition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return &ValidationError{Reason: "name is required"}
	}
	if strings.TrimSpace(def.Command) == "" {
		return &ValidationError{Task: def.Name, Reason: "command is required"}
	}
	if !def.PreferredRunner.Valid() {
		return &ValidationError{Task: def.Name, Reason: fmt.Sprintf("unknown preferred runner %q", def.PreferredRunner)}
	}
	if def.Retries < 0 {
		return &ValidationError{Task: def.Name, Reason: fmt.Sprintf("retries must be >= 0, got %d", def.Retries)}
	}
	if def.Timeout < 0 {
		return &ValidationError{Task: def.Name, Reason: fmt.Sprintf("timeout must be >= 0, got %s", def.Timeout)}
	}

	seen := make(map[string]bool, len(def.Dependencies))
	for _, dep := range def.Dependencies {
		if dep == def.Name {
			return &ValidationError{Task: def.Name, Reason: "task depends on itself"}
		}
		if seen[dep] {
			return &ValidationError{Task: def.Name, Reason: fmt.Sprintf("duplicate dependency %q", dep)}
		}
		seen[dep] = true
	}

	for i, fb := range def.Fallbacks {
		if !fb.Runner.Valid() {
			return &ValidationError{Task: def.Name, Reason: fmt.Sprintf("fallback %d: unknown runner %q", i, fb.Runner)}
		}
		if strings.TrimSpace(fb.Command) == "" {
			return &ValidationError{Task: def.Name, Reason: fmt.Sprintf("fallback %d: command is required", i)}
		}
	}
	return nil
}
