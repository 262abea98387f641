// Package executor runs a single task on a chosen backend, with timeout,
// retries and the task's fallback chain.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// ErrExecution is matched by ExecutionFailure.
var ErrExecution = errors.New("task execution failed")

// ErrTimeout is matched by TimeoutError.
var ErrTimeout = errors.New("task timed out")

// ExecutionFailure is a runner exiting non-zero.
type ExecutionFailure struct {
	Task     string
	Runner   models.Backend
	ExitCode int
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("task %q failed on %s with exit code %d", e.Task, e.Runner, e.ExitCode)
}

// Is reports whether target is ErrExecution.
func (e *ExecutionFailure) Is(target error) bool {
	return target == ErrExecution
}

// TimeoutError is a runner killed after the task timeout.
type TimeoutError struct {
	Task    string
	Runner  models.Backend
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out on %s after %s", e.Task, e.Runner, e.Timeout)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Options controls a single Execute call.
type Options struct {
	Frameworks []string
	Platforms  []string
	Cache      models.CacheMode
	// DryRun builds the command without spawning anything.
	DryRun bool
	// NoFallback stops after the primary runner's attempts.
	NoFallback bool
	// Verbose streams child output live in addition to capturing it.
	Verbose bool
	// Output and ErrOutput receive streamed output. Default os.Stdout/os.Stderr.
	Output    io.Writer
	ErrOutput io.Writer
	// Batch is copied into the result.
	Batch int
}

func (o Options) cacheMode() models.CacheMode {
	if o.Cache == "" {
		return models.CacheConservative
	}
	return o.Cache
}

func (o Options) output() io.Writer {
	if o.Output == nil {
		return os.Stdout
	}
	return o.Output
}

func (o Options) errOutput() io.Writer {
	if o.ErrOutput == nil {
		return os.Stderr
	}
	return o.ErrOutput
}

// Executor runs tasks through a CommandRunner.
type Executor struct {
	runner   iexec.CommandRunner
	dir      string
	streamMu sync.Mutex
	debugLog func(format string, args ...interface{})
}

// New creates an executor spawning commands in dir.
func New(runner iexec.CommandRunner, dir string) *Executor {
	return &Executor{
		runner:   runner,
		dir:      dir,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (e *Executor) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		e.debugLog = fn
	}
}

// Execute runs task on runner and returns its result. It never returns an
// error: failures are recorded in the result.
//
// Attempt order: the preferred runner as a skipped attempt when it is
// unavailable and was not selected, then runner with up to task.Retries
// retries, then each fallback once. A (runner, argv) pair already tried
// is not spawned again.
func (e *Executor) Execute(ctx context.Context, task models.TaskDefinition, runner models.Backend, caps models.Capabilities, opts Options) models.ExecutionResult {
	start := time.Now()
	result := models.ExecutionResult{
		TaskName:   task.Name,
		Batch:      opts.Batch,
		RunnerUsed: runner,
		DryRun:     opts.DryRun,
	}
	finish := func(err error) models.ExecutionResult {
		if err != nil && !result.Succeeded {
			result.Error = err.Error()
		}
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	primary, err := BuildCommand(runner, task.CommandFor(runner), task.Name, opts)
	if err != nil {
		return finish(fmt.Errorf("building command for %s: %w", runner, err))
	}

	if opts.DryRun {
		result.Succeeded = true
		result.Attempts = []models.Attempt{{Runner: runner, Command: primary.Argv()}}
		result.Stdout = "would run: " + primary.String() + "\n"
		e.debugLog("[executor] dry run %s: %s", task.Name, primary)
		return finish(nil)
	}

	tried := make(map[string]bool)

	if pref := task.PreferredRunner; pref != "" && pref != runner && !caps.Has(pref) {
		if cmd, err := BuildCommand(pref, task.Command, task.Name, opts); err == nil {
			tried[cmd.key()] = true
			result.Attempts = append(result.Attempts, skipped(cmd))
			e.debugLog("[executor] %s: preferred runner %s unavailable", task.Name, pref)
		}
	}

	var lastErr error
	tried[primary.key()] = true
	if !caps.Has(runner) {
		result.Attempts = append(result.Attempts, skipped(primary))
		lastErr = fmt.Errorf("runner %s is not available", runner)
	} else {
		for i := 0; i <= task.Retries; i++ {
			if i > 0 {
				e.debugLog("[executor] %s: retry %d/%d on %s", task.Name, i, task.Retries, runner)
			}
			ok, err := e.attempt(ctx, task, primary, opts, &result)
			if ok {
				return finish(nil)
			}
			lastErr = err
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
		}
	}

	if opts.NoFallback {
		return finish(lastErr)
	}

	for _, fb := range task.Fallbacks {
		cmd, err := BuildCommand(fb.Runner, fb.Command, task.Name, opts)
		if err != nil {
			lastErr = fmt.Errorf("building fallback command for %s: %w", fb.Runner, err)
			continue
		}
		if tried[cmd.key()] {
			continue
		}
		tried[cmd.key()] = true

		if !caps.Has(fb.Runner) {
			result.Attempts = append(result.Attempts, skipped(cmd))
			e.debugLog("[executor] %s: fallback %s unavailable", task.Name, fb.Runner)
			continue
		}

		e.debugLog("[executor] %s: falling back to %s", task.Name, fb.Runner)
		ok, err := e.attempt(ctx, task, cmd, opts, &result)
		if ok {
			return finish(nil)
		}
		lastErr = err
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("task %q: no runner could be attempted", task.Name)
	}
	return finish(lastErr)
}

// attempt spawns cmd once and records the attempt in result.
func (e *Executor) attempt(ctx context.Context, task models.TaskDefinition, cmd Command, opts Options, result *models.ExecutionResult) (bool, error) {
	path, err := e.runner.LookPath(cmd.Binary, filepath.Join(e.dir, "node_modules", ".bin"))
	if err != nil {
		result.Attempts = append(result.Attempts, skipped(cmd))
		return false, fmt.Errorf("resolving %s: %w", cmd.Binary, err)
	}

	var stdout, stderr bytes.Buffer
	spec := iexec.Spec{
		Name:    path,
		Args:    cmd.Args,
		Dir:     e.dir,
		Env:     cmd.Env,
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: task.Timeout,
	}

	var streams []*lineWriter
	if opts.Verbose {
		out := newLineWriter(opts.output(), "["+task.Name+"] ", &e.streamMu)
		errOut := newLineWriter(opts.errOutput(), "["+task.Name+"] ", &e.streamMu)
		spec.Stdout = io.MultiWriter(&stdout, out)
		spec.Stderr = io.MultiWriter(&stderr, errOut)
		streams = append(streams, out, errOut)
	}

	e.debugLog("[executor] %s: running %s", task.Name, cmd)
	res, runErr := e.runner.Run(ctx, spec)
	for _, s := range streams {
		if err := s.Flush(); err != nil {
			e.debugLog("[executor] %s: flushing streamed output: %v", task.Name, err)
		}
	}

	att := models.Attempt{Runner: cmd.Runner, Command: cmd.Argv()}
	if res != nil {
		att.ExitCode = res.ExitCode
		att.TimedOut = res.TimedOut
		att.DurationMs = res.Duration.Milliseconds()
	}
	result.Attempts = append(result.Attempts, att)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case runErr != nil:
		return false, fmt.Errorf("running %s: %w", cmd.Binary, runErr)
	case att.TimedOut:
		e.debugLog("[executor] %s: timed out on %s after %s", task.Name, cmd.Runner, task.Timeout)
		return false, &TimeoutError{Task: task.Name, Runner: cmd.Runner, Timeout: task.Timeout}
	case att.ExitCode != 0:
		e.debugLog("[executor] %s: %s exited %d", task.Name, cmd.Runner, att.ExitCode)
		return false, &ExecutionFailure{Task: task.Name, Runner: cmd.Runner, ExitCode: att.ExitCode}
	}

	result.Succeeded = true
	result.RunnerUsed = cmd.Runner
	result.Error = ""
	return true, nil
}

func skipped(cmd Command) models.Attempt {
	return models.Attempt{
		Runner:   cmd.Runner,
		Command:  cmd.Argv(),
		ExitCode: models.ExitCodeUnavailable,
		Skipped:  true,
	}
}
