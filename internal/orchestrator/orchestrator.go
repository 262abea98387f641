// Package orchestrator runs requested tasks batch by batch.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/stackrun/internal/detect"
	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/internal/executor"
	"github.com/ShayCichocki/stackrun/internal/graph"
	"github.com/ShayCichocki/stackrun/internal/registry"
	"github.com/ShayCichocki/stackrun/internal/selector"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// CapabilityDetector computes the backends usable for a run.
type CapabilityDetector interface {
	Detect(ctx context.Context) models.Capabilities
}

// InstalledDetector is implemented by detectors that can report installed
// backends without spawning probes. Dry runs prefer it.
type InstalledDetector interface {
	DetectInstalled(ctx context.Context) models.Capabilities
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
type RequiredConfig struct {
	// Registry holds the task definitions. It is not modified.
	Registry *registry.Registry
	// Runner spawns child processes.
	Runner iexec.CommandRunner
	// WorkDir is where commands run and backends are probed.
	WorkDir string
}

// Orchestrator resolves requested tasks into batches and executes them.
type Orchestrator struct {
	registry *registry.Registry
	detector CapabilityDetector
	executor *executor.Executor
	policy   selector.Policy
	prefs    selector.Preferences
	exec     executor.Options

	parallel    bool
	bail        bool
	concurrency int

	logger  *DebugLogger
	onEvent func(OrchestratorEvent)
	eventMu sync.Mutex

	fixedCaps *models.Capabilities
}

// New creates an orchestrator.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	policy := selector.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}

	det := o.detector
	if det == nil {
		det = detect.New(req.Runner, req.WorkDir, detect.WithDebugLog(logger.Log))
	}

	ex := executor.New(req.Runner, req.WorkDir)
	ex.SetDebugLog(logger.Log)

	return &Orchestrator{
		registry:    req.Registry,
		detector:    det,
		executor:    ex,
		policy:      policy,
		prefs:       o.prefs,
		exec:        o.exec,
		parallel:    o.parallel,
		bail:        o.bail,
		concurrency: o.concurrency,
		logger:      logger,
		onEvent:     o.onEvent,
		fixedCaps:   o.capabilities,
	}
}

// Plan resolves requested tasks into batches without running anything.
func (o *Orchestrator) Plan(requested []string) ([]models.Batch, error) {
	r := graph.New(o.registry)
	r.SetDebugLog(o.logger.Log)
	return r.Resolve(requested)
}

// Run executes requested tasks and their dependencies.
//
// Configuration errors (cycle, unknown task) are returned before anything
// runs. Task failures are reported in the summary, never as an error. A
// canceled context stops scheduling further batches and returns the partial
// summary along with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, requested []string) (*models.RunSummary, error) {
	start := time.Now()

	batches, err := o.Plan(requested)
	if err != nil {
		return nil, fmt.Errorf("resolving tasks: %w", err)
	}

	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		Requested: append([]string(nil), requested...),
		Batches:   batches,
		StartedAt: start,
	}
	o.logger.Log("[orchestrator] run %s: %d batches for %v", summary.RunID, len(batches), requested)

	caps := o.capabilities(ctx)

	var runErr error
	for i := range summary.Batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		batch := &summary.Batches[i]
		batch.Status = models.BatchRunning
		o.emit(OrchestratorEvent{Type: EventBatchStarted, Batch: batch.Depth, Tasks: batch.Tasks})

		results := o.runBatch(ctx, *batch, caps)
		summary.Results = append(summary.Results, results...)

		batch.Status = models.BatchSucceeded
		if len(results) < len(batch.Tasks) || !allSucceeded(results) {
			batch.Status = models.BatchFailed
		}
		o.emit(OrchestratorEvent{Type: EventBatchDone, Batch: batch.Depth, Tasks: batch.Tasks, Message: string(batch.Status)})
		o.logger.Log("[orchestrator] batch %d %s", batch.Depth, batch.Status)

		if batch.Status == models.BatchFailed && o.bail && i < len(summary.Batches)-1 {
			summary.Bailed = true
			o.logger.Log("[orchestrator] bailing after batch %d", batch.Depth)
			break
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	summary.Succeeded = runErr == nil && !summary.Bailed &&
		len(summary.Results) == countTasks(summary.Batches) && allSucceeded(summary.Results)
	summary.DurationMs = time.Since(start).Milliseconds()

	o.emit(OrchestratorEvent{Type: EventRunDone, Summary: summary})
	o.logger.Log("[orchestrator] run %s done: succeeded=%t duration=%dms", summary.RunID, summary.Succeeded, summary.DurationMs)

	return summary, runErr
}

// capabilities returns the snapshot for this run.
func (o *Orchestrator) capabilities(ctx context.Context) models.Capabilities {
	if o.fixedCaps != nil {
		return *o.fixedCaps
	}
	if d, ok := o.detector.(InstalledDetector); ok && o.exec.DryRun {
		return d.DetectInstalled(ctx)
	}
	return o.detector.Detect(ctx)
}

// runBatch executes every task of one batch and returns their results in
// batch order. Tasks that never started because ctx was canceled are omitted.
func (o *Orchestrator) runBatch(ctx context.Context, batch models.Batch, caps models.Capabilities) []models.ExecutionResult {
	results := make([]models.ExecutionResult, len(batch.Tasks))
	started := make([]bool, len(batch.Tasks))

	if o.parallel && len(batch.Tasks) > 1 && o.parallelSafe(batch.Tasks) {
		var g errgroup.Group
		if o.concurrency > 0 {
			g.SetLimit(o.concurrency)
		}
		for i, name := range batch.Tasks {
			i, name := i, name
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				started[i] = true
				results[i] = o.runTask(ctx, name, batch.Depth, caps)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range batch.Tasks {
			if ctx.Err() != nil {
				break
			}
			started[i] = true
			results[i] = o.runTask(ctx, name, batch.Depth, caps)
		}
	}

	out := results[:0]
	for i := range results {
		if started[i] {
			out = append(out, results[i])
		}
	}
	return out
}

// parallelSafe reports whether every task may run concurrently.
func (o *Orchestrator) parallelSafe(names []string) bool {
	for _, name := range names {
		def, ok := o.registry.Get(name)
		if !ok || !def.ParallelSafe {
			return false
		}
	}
	return true
}

// runTask selects a runner and executes one task.
func (o *Orchestrator) runTask(ctx context.Context, name string, depth int, caps models.Capabilities) models.ExecutionResult {
	start := time.Now()
	def, ok := o.registry.Get(name)
	if !ok {
		res := models.ExecutionResult{TaskName: name, Batch: depth, Error: fmt.Sprintf("task %q is not registered", name)}
		o.emit(OrchestratorEvent{Type: EventTaskFailed, Task: name, Batch: depth, Result: &res})
		return res
	}

	runner, err := o.policy.Select(*def, caps, o.prefs)
	if err != nil && o.exec.DryRun {
		runner, err = def.PreferredRunner, nil
	}
	if err != nil {
		o.logger.Log("[orchestrator] %s: %v", name, err)
		res := models.ExecutionResult{
			TaskName:   name,
			Batch:      depth,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		o.emit(OrchestratorEvent{Type: EventTaskFailed, Task: name, Batch: depth, Result: &res, Error: err})
		return res
	}

	o.emit(OrchestratorEvent{Type: EventTaskStarted, Task: name, Batch: depth, Runner: runner})

	opts := o.exec
	opts.Batch = depth
	res := o.executor.Execute(ctx, *def, runner, caps, opts)

	evt := OrchestratorEvent{Type: EventTaskCompleted, Task: name, Batch: depth, Runner: res.RunnerUsed, Result: &res}
	if !res.Succeeded {
		evt.Type = EventTaskFailed
		evt.Message = res.Error
	}
	o.emit(evt)
	return res
}

// emit delivers an event to the handler. Calls never overlap.
func (o *Orchestrator) emit(evt OrchestratorEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Task != "" {
		o.logger.Log("[orchestrator] event %s task=%s runner=%s", evt.Type, evt.Task, evt.Runner)
	}
	if o.onEvent == nil {
		return
	}
	o.eventMu.Lock()
	defer o.eventMu.Unlock()
	o.onEvent(evt)
}

func allSucceeded(results []models.ExecutionResult) bool {
	for _, r := range results {
		if !r.Succeeded {
			return false
		}
	}
	return true
}

func countTasks(batches []models.Batch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Tasks)
	}
	return n
}
