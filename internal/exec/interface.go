// Package exec provides an interface for command execution.
package exec

import (
	"context"
	"io"
	"time"
)

// Spec describes one child process invocation.
type Spec struct {
	// Name is the executable; resolved on PATH when not absolute.
	Name string
	Args []string
	// Dir is the working directory; the current directory when empty.
	Dir string
	// Env holds KEY=VALUE pairs added to the inherited environment.
	Env []string
	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
	// Timeout kills the child after the given duration. Zero disables it.
	Timeout time.Duration
}

// Result is the outcome of a child process that was started.
type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run starts the command and waits for it. A non-zero exit or a timeout
	// is reported through Result with a nil error; the error is reserved for
	// commands that could not be started or a canceled parent context.
	Run(ctx context.Context, spec Spec) (*Result, error)

	// LookPath resolves an executable on PATH, then in each of extraDirs.
	LookPath(file string, extraDirs ...string) (string, error)
}
