package models

import "time"

// ExitCodeUnavailable is recorded for attempts whose runner was not usable.
// It mirrors the shell's "command not found" status.
const ExitCodeUnavailable = 127

// ExitCodeTimedOut is recorded for attempts killed after their timeout.
const ExitCodeTimedOut = -1

// BatchStatus is the lifecycle state of a batch within a run.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchRunning, BatchSucceeded, BatchFailed:
		return true
	default:
		return false
	}
}

// Batch is a set of tasks sharing the same dependency depth.
type Batch struct {
	// Depth is 0 for tasks without dependencies.
	Depth int `json:"depth"`
	// Tasks are ordered by registration order.
	Tasks []string `json:"tasks"`
	// Status is updated by the orchestrator as the batch runs.
	Status BatchStatus `json:"status"`
}

// Attempt records a single invocation of a runner.
type Attempt struct {
	Runner   Backend  `json:"runner"`
	Command  []string `json:"command,omitempty"`
	ExitCode int      `json:"exit_code"`
	// TimedOut is set when the child was killed after the task timeout.
	TimedOut bool `json:"timed_out,omitempty"`
	// Skipped is set when the runner was unavailable and nothing was spawned.
	Skipped    bool  `json:"skipped,omitempty"`
	DurationMs int64 `json:"duration_ms"`
}

// ExecutionResult is the outcome of executing one task.
type ExecutionResult struct {
	TaskName   string    `json:"task"`
	Batch      int       `json:"batch"`
	RunnerUsed Backend   `json:"runner_used,omitempty"`
	Succeeded  bool      `json:"succeeded"`
	DurationMs int64     `json:"duration_ms"`
	Attempts   []Attempt `json:"attempts"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	Error      string    `json:"error,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
}

// RunSummary aggregates every ExecutionResult of one orchestrator run.
type RunSummary struct {
	RunID      string            `json:"run_id"`
	Requested  []string          `json:"requested"`
	Batches    []Batch           `json:"batches"`
	Results    []ExecutionResult `json:"results"`
	Succeeded  bool              `json:"succeeded"`
	Bailed     bool              `json:"bailed,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
}

// Result returns the result for the named task, or nil if it never ran.
func (s *RunSummary) Result(task string) *ExecutionResult {
	for i := range s.Results {
		if s.Results[i].TaskName == task {
			return &s.Results[i]
		}
	}
	return nil
}

// Failed returns the results that did not succeed.
func (s *RunSummary) Failed() []ExecutionResult {
	var out []ExecutionResult
	for _, r := range s.Results {
		if !r.Succeeded {
			out = append(out, r)
		}
	}
	return out
}
