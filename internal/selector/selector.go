// Package selector chooses the backend that runs a task.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/stackrun/internal/config"
	"github.com/ShayCichocki/stackrun/internal/match"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// Step names one layer of the selection policy.
type Step string

const (
	// StepPreferred picks the task's own preferred runner.
	StepPreferred Step = "preferred"
	// StepCache routes cacheable tasks to the caching pipeline.
	StepCache Step = "cache"
	// StepCategory matches the task name against category patterns.
	StepCategory Step = "category"
	// StepDefault uses the caller's global runner defaults.
	StepDefault Step = "default"
	// StepPriority takes the first available backend in priority order.
	StepPriority Step = "priority"
)

// ErrNoRunner is matched by NoRunnerAvailableError.
var ErrNoRunner = errors.New("no runner available")

// NoRunnerAvailableError is returned when no step yields an available backend.
type NoRunnerAvailableError struct {
	Task string
	// Considered lists every candidate examined, in order.
	Considered []models.Backend
}

func (e *NoRunnerAvailableError) Error() string {
	if len(e.Considered) == 0 {
		return fmt.Sprintf("no runner available for task %q", e.Task)
	}
	names := make([]string, len(e.Considered))
	for i, b := range e.Considered {
		names[i] = string(b)
	}
	return fmt.Sprintf("no runner available for task %q (considered: %s)", e.Task, strings.Join(names, ", "))
}

// Is reports whether target is ErrNoRunner.
func (e *NoRunnerAvailableError) Is(target error) bool {
	return target == ErrNoRunner
}

// Category routes tasks whose name matches a pattern to specific runners.
type Category struct {
	Name     string
	Patterns []string
	Runners  []models.Backend
}

// Policy is an ordered, first-match-wins selection policy.
type Policy struct {
	Order        []Step
	CacheBackend models.Backend
	Categories   []Category
	Priority     []models.Backend
}

// Preferences are the caller's global choices for one run.
type Preferences struct {
	TaskRunner     models.Backend
	PackageManager models.Backend
	Cache          models.CacheMode
}

// Decision records which step picked the runner.
type Decision struct {
	Runner models.Backend
	Step   Step
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	p, err := FromConfig(config.Default().Selector)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in selector policy: %v", err))
	}
	return p
}

// FromConfig builds a policy from the selector configuration section.
func FromConfig(cfg config.SelectorConfig) (Policy, error) {
	p := Policy{}

	seen := make(map[Step]bool)
	for _, s := range cfg.Order {
		step := Step(strings.ToLower(strings.TrimSpace(s)))
		switch step {
		case StepPreferred, StepCache, StepCategory, StepDefault, StepPriority:
		default:
			return Policy{}, fmt.Errorf("selector.order: unknown step %q", s)
		}
		if seen[step] {
			return Policy{}, fmt.Errorf("selector.order: duplicate step %q", s)
		}
		seen[step] = true
		p.Order = append(p.Order, step)
	}
	if len(p.Order) == 0 {
		p.Order = []Step{StepPreferred, StepCache, StepCategory, StepDefault, StepPriority}
	}

	if cfg.CacheBackend != "" {
		b, err := models.ParseBackend(cfg.CacheBackend)
		if err != nil {
			return Policy{}, fmt.Errorf("selector.cache_backend: %w", err)
		}
		p.CacheBackend = b
	}

	for _, c := range cfg.Categories {
		runners, err := models.ParseBackends(c.Runners)
		if err != nil {
			return Policy{}, fmt.Errorf("selector.categories[%s]: %w", c.Name, err)
		}
		p.Categories = append(p.Categories, Category{
			Name:     c.Name,
			Patterns: append([]string(nil), c.Patterns...),
			Runners:  runners,
		})
	}

	priority, err := models.ParseBackends(cfg.Priority)
	if err != nil {
		return Policy{}, fmt.Errorf("selector.priority: %w", err)
	}
	if len(priority) == 0 {
		priority = models.AllBackends()
	}
	p.Priority = priority

	return p, nil
}

// Select returns the backend for task, or a *NoRunnerAvailableError.
// The result depends only on the arguments.
func (p Policy) Select(task models.TaskDefinition, caps models.Capabilities, prefs Preferences) (models.Backend, error) {
	d, err := p.Explain(task, caps, prefs)
	if err != nil {
		return "", err
	}
	return d.Runner, nil
}

// Explain is Select that also reports the deciding step.
func (p Policy) Explain(task models.TaskDefinition, caps models.Capabilities, prefs Preferences) (Decision, error) {
	var considered []models.Backend
	try := func(step Step, candidates ...models.Backend) (Decision, bool) {
		for _, b := range candidates {
			if b == "" {
				continue
			}
			considered = append(considered, b)
			if caps.Has(b) {
				return Decision{Runner: b, Step: step}, true
			}
		}
		return Decision{}, false
	}

	for _, step := range p.Order {
		var d Decision
		var ok bool
		switch step {
		case StepPreferred:
			d, ok = try(step, task.PreferredRunner)
		case StepCache:
			if useCache(task, prefs.Cache) {
				d, ok = try(step, p.CacheBackend)
			}
		case StepCategory:
			if c := p.category(task.Name); c != nil {
				d, ok = try(step, c.Runners...)
			}
		case StepDefault:
			d, ok = try(step, prefs.TaskRunner, prefs.PackageManager, caps.ManifestPackageManager)
		case StepPriority:
			d, ok = try(step, p.Priority...)
		}
		if ok {
			return d, nil
		}
	}

	return Decision{}, &NoRunnerAvailableError{Task: task.Name, Considered: dedupe(considered)}
}

// category returns the first category whose patterns match name.
func (p Policy) category(name string) *Category {
	for i := range p.Categories {
		if match.Any(name, p.Categories[i].Patterns) {
			return &p.Categories[i]
		}
	}
	return nil
}

// useCache reports whether the cache step applies to task.
func useCache(task models.TaskDefinition, mode models.CacheMode) bool {
	if !task.Cacheable {
		return false
	}
	switch mode {
	case models.CacheDisabled:
		return false
	case models.CacheAggressive:
		return true
	default:
		return task.HasDependencies()
	}
}

func dedupe(in []models.Backend) []models.Backend {
	seen := make(map[models.Backend]bool, len(in))
	out := make([]models.Backend, 0, len(in))
	for _, b := range in {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// Select applies the default policy.
func Select(task models.TaskDefinition, caps models.Capabilities, prefs Preferences) (models.Backend, error) {
	return DefaultPolicy().Select(task, caps, prefs)
}
