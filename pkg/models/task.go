package models

import (
	"fmt"
	"time"
)

// CacheMode controls how aggressively backend caches are used.
type CacheMode string

const (
	// CacheAggressive prefers the caching backend for every cacheable task.
	CacheAggressive CacheMode = "aggressive"
	// CacheConservative prefers the caching backend only for cacheable tasks
	// that have dependencies.
	CacheConservative CacheMode = "conservative"
	// CacheDisabled never prefers the caching backend and asks backends to
	// bypass their caches.
	CacheDisabled CacheMode = "disabled"
)

// Valid returns true if the cache mode is a known value.
func (m CacheMode) Valid() bool {
	switch m {
	case CacheAggressive, CacheConservative, CacheDisabled:
		return true
	default:
		return false
	}
}

// ParseCacheMode converts a flag value into a CacheMode.
func ParseCacheMode(s string) (CacheMode, error) {
	m := CacheMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid cache mode %q (want aggressive, conservative or disabled)", s)
	}
	return m, nil
}

// Fallback is an alternate backend and command tried when the primary fails.
type Fallback struct {
	// Runner is the backend to invoke.
	Runner Backend `json:"runner"`
	// Command is the argument template for that backend.
	Command string `json:"command"`
}

// TaskDefinition is a named unit of work registered in the task registry.
// Definitions are immutable once registered.
type TaskDefinition struct {
	// Name is the unique key of the task.
	Name string `json:"name"`
	// Description is a one-line summary shown by `stackrun tasks`.
	Description string `json:"description,omitempty"`
	// Command is the argument template passed to the runner.
	Command string `json:"command"`
	// PreferredRunner is the backend tried first.
	PreferredRunner Backend `json:"preferred_runner"`
	// Dependencies lists task names that must complete in an earlier batch.
	Dependencies []string `json:"dependencies,omitempty"`
	// Fallbacks are tried in order when the primary runner fails.
	Fallbacks []Fallback `json:"fallbacks,omitempty"`
	// ParallelSafe allows the task to run concurrently with batch siblings.
	ParallelSafe bool `json:"parallel_safe"`
	// Cacheable marks the task output as safe to cache.
	Cacheable bool `json:"cacheable"`
	// Timeout bounds a single attempt. Zero means no timeout.
	Timeout time.Duration `json:"timeout"`
	// Retries is the number of extra attempts on the primary runner.
	Retries int `json:"retries"`
}

// HasDependencies reports whether the task depends on other tasks.
func (t *TaskDefinition) HasDependencies() bool {
	return len(t.Dependencies) > 0
}

// TaskTemplate runs the script or pipeline named after the task.
const TaskTemplate = "${TASK}"

// CommandFor returns the command template to use with the given runner:
// the first fallback declared for that runner, otherwise the task command.
// A runner of a different kind than the preferred runner with no fallback
// entry gets TaskTemplate, since the task command is written for another tool.
func (t *TaskDefinition) CommandFor(runner Backend) string {
	if runner == t.PreferredRunner {
		return t.Command
	}
	for _, fb := range t.Fallbacks {
		if fb.Runner == runner {
			return fb.Command
		}
	}
	if runner.Kind() != t.PreferredRunner.Kind() {
		return TaskTemplate
	}
	return t.Command
}

// Clone returns a deep copy so callers cannot mutate registered definitions.
func (t *TaskDefinition) Clone() *TaskDefinition {
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Fallbacks != nil {
		c.Fallbacks = append([]Fallback(nil), t.Fallbacks...)
	}
	return &c
}
