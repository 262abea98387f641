// Package exectest provides a scriptable CommandRunner for tests.
package exectest

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	iexec "github.com/ShayCichocki/stackrun/internal/exec"
)

// Response is what the fake returns for a matching command.
type Response struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Delay simulates work; it honors the spec timeout and ctx cancellation.
	Delay time.Duration
	// Err is returned as a start failure.
	Err error
}

// Runner is a spy CommandRunner. Responses are keyed by the command line
// ("name arg1 arg2"); the longest matching prefix wins.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	fallback  Response
	paths     map[string]string
	calls     []iexec.Spec
}

// New creates a fake where every command succeeds and no binary is on PATH.
func New() *Runner {
	return &Runner{
		responses: make(map[string]Response),
		paths:     make(map[string]string),
	}
}

// On registers a response for commands whose line starts with prefix.
func (r *Runner) On(prefix string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = resp
	return r
}

// Default sets the response for commands without a matching prefix.
func (r *Runner) Default(resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = resp
	return r
}

// Install makes LookPath resolve the given binaries.
func (r *Runner) Install(binaries ...string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range binaries {
		r.paths[b] = "/fake/bin/" + b
	}
	return r
}

// Run records the spec and replays the scripted response.
func (r *Runner) Run(ctx context.Context, spec iexec.Spec) (*iexec.Result, error) {
	line := Line(spec)

	r.mu.Lock()
	r.calls = append(r.calls, spec)
	resp := r.fallback
	best := -1
	for prefix, candidate := range r.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			resp, best = candidate, len(prefix)
		}
	}
	r.mu.Unlock()

	res := &iexec.Result{}
	start := time.Now()
	if resp.Delay > 0 {
		var timeout <-chan time.Time
		if spec.Timeout > 0 {
			timer := time.NewTimer(spec.Timeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-time.After(resp.Delay):
		case <-timeout:
			res.ExitCode = -1
			res.TimedOut = true
			res.Duration = time.Since(start)
			return res, nil
		case <-ctx.Done():
			res.ExitCode = -1
			return res, ctx.Err()
		}
	}
	res.Duration = time.Since(start)

	if resp.Err != nil {
		res.ExitCode = 127
		return res, resp.Err
	}
	if spec.Stdout != nil && resp.Stdout != "" {
		io.WriteString(spec.Stdout, resp.Stdout)
	}
	if spec.Stderr != nil && resp.Stderr != "" {
		io.WriteString(spec.Stderr, resp.Stderr)
	}
	res.ExitCode = resp.ExitCode
	return res, nil
}

// LookPath resolves binaries registered with Install.
func (r *Runner) LookPath(file string, extraDirs ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.paths[file]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%s: %w", file, exec.ErrNotFound)
}

// Calls returns a copy of every recorded spec.
func (r *Runner) Calls() []iexec.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]iexec.Spec, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns the number of Run invocations.
func (r *Runner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Lines returns the command line of every recorded call.
func (r *Runner) Lines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = Line(c)
	}
	return out
}

// Line renders a spec as "name arg1 arg2".
func Line(spec iexec.Spec) string {
	return strings.TrimSpace(spec.Name + " " + strings.Join(spec.Args, " "))
}

var _ iexec.CommandRunner = (*Runner)(nil)
