package orchestrator

import (
	"time"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventBatchStarted indicates a batch moved to Running.
	EventBatchStarted EventType = "batch_started"
	// EventBatchDone indicates a batch reached Succeeded or Failed.
	EventBatchDone EventType = "batch_done"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventRunDone indicates the whole run is complete.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events drive the status printer.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// Task is the related task name, if applicable.
	Task string
	// Batch is the depth of the related batch.
	Batch int
	// Tasks lists the batch members for batch events.
	Tasks []string
	// Runner is the backend chosen for the task, if known.
	Runner models.Backend
	// Result is set on task_completed and task_failed.
	Result *models.ExecutionResult
	// Summary is set on run_done.
	Summary *models.RunSummary
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
