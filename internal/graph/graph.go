// Package graph resolves task dependencies into execution batches.
//
// Resolution generalizes topological sort into levels: every task gets a
// depth (0 without dependencies, otherwise 1 + the deepest dependency) and
// tasks sharing a depth form a batch that may run concurrently.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// ErrConfiguration is matched by every resolution error. Configuration
// errors are fatal and are never retried.
var ErrConfiguration = errors.New("task configuration error")

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyCycleError reports a cycle among the requested tasks.
type DependencyCycleError struct {
	// Cycle lists the tasks on the cycle; the first task is repeated last.
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Cycle, " -> "))
}

// Is matches ErrCycleDetected and ErrConfiguration.
func (e *DependencyCycleError) Is(target error) bool {
	return target == ErrCycleDetected || target == ErrConfiguration
}

// UnknownTaskError reports a task name absent from the registry.
type UnknownTaskError struct {
	Task string
	// RequiredBy is the task declaring the dependency, empty when the
	// unknown name was requested directly.
	RequiredBy string
}

func (e *UnknownTaskError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("unknown task %q", e.Task)
	}
	return fmt.Sprintf("task %q depends on unknown task %q", e.RequiredBy, e.Task)
}

// Is matches ErrConfiguration.
func (e *UnknownTaskError) Is(target error) bool {
	return target == ErrConfiguration
}

// TaskSource is the read-only view of the registry the resolver needs.
type TaskSource interface {
	Has(name string) bool
	Dependencies(name string) []string
	// Index is the registration position, used to order tasks within a batch.
	Index(name string) int
}

// Color states used during depth computation.
const (
	white = iota // unvisited
	gray         // being computed
	black        // done
)

// Resolver computes execution batches for a set of requested tasks.
type Resolver struct {
	src      TaskSource
	debugLog func(format string, args ...interface{})
}

// New creates a resolver over the given task source.
func New(src TaskSource) *Resolver {
	return &Resolver{
		src:      src,
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (r *Resolver) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Resolve is shorthand for New(src).Resolve(requested).
func Resolve(requested []string, src TaskSource) ([]models.Batch, error) {
	return New(src).Resolve(requested)
}

// Resolve returns the requested tasks plus their transitive dependencies
// grouped into batches ordered by depth. Every dependency of a task lands
// in a strictly earlier batch. Within a batch tasks follow registration order.
// No batches are returned when an error occurs.
func (r *Resolver) Resolve(requested []string) ([]models.Batch, error) {
	colors := make(map[string]int)
	depths := make(map[string]int)
	var stack []string

	var visit func(name, requiredBy string) (int, error)
	visit = func(name, requiredBy string) (int, error) {
		if !r.src.Has(name) {
			return 0, &UnknownTaskError{Task: name, RequiredBy: requiredBy}
		}

		switch colors[name] {
		case gray:
			return 0, &DependencyCycleError{Cycle: cyclePath(stack, name)}
		case black:
			return depths[name], nil
		}

		colors[name] = gray
		stack = append(stack, name)

		depth := 0
		for _, dep := range r.src.Dependencies(name) {
			d, err := visit(dep, name)
			if err != nil {
				return 0, err
			}
			if d+1 > depth {
				depth = d + 1
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = black
		depths[name] = depth
		r.debugLog("[graph.Resolve] task %s at depth %d", name, depth)
		return depth, nil
	}

	for _, name := range requested {
		if _, err := visit(name, ""); err != nil {
			r.debugLog("[graph.Resolve] resolution failed: %v", err)
			return nil, err
		}
	}

	return r.group(depths), nil
}

// group buckets tasks by depth in ascending order.
func (r *Resolver) group(depths map[string]int) []models.Batch {
	maxDepth := -1
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}

	batches := make([]models.Batch, maxDepth+1)
	for i := range batches {
		batches[i] = models.Batch{Depth: i, Status: models.BatchPending}
	}
	for name, d := range depths {
		batches[d].Tasks = append(batches[d].Tasks, name)
	}
	for i := range batches {
		tasks := batches[i].Tasks
		sort.SliceStable(tasks, func(a, b int) bool {
			ia, ib := r.src.Index(tasks[a]), r.src.Index(tasks[b])
			if ia != ib {
				return ia < ib
			}
			return tasks[a] < tasks[b]
		})
	}

	r.debugLog("[graph.Resolve] %d tasks in %d batches", len(depths), len(batches))
	return batches
}

// cyclePath extracts the cycle closed by revisiting name.
func cyclePath(stack []string, name string) []string {
	for i, n := range stack {
		if n == name {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, name)
		}
	}
	return []string{name, name}
}

// Flatten returns all task names of the batches in execution order.
func Flatten(batches []models.Batch) []string {
	var out []string
	for _, b := range batches {
		out = append(out, b.Tasks...)
	}
	return out
}
