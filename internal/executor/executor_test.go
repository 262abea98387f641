package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/stackrun/internal/exec/exectest"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

func buildTask() models.TaskDefinition {
	return models.TaskDefinition{
		Name:            "build",
		Command:         "build",
		PreferredRunner: models.BackendTurbo,
		Fallbacks: []models.Fallback{
			{Runner: models.BackendPnpm, Command: "build"},
			{Runner: models.BackendNpm, Command: "build"},
		},
	}
}

func allCaps() models.Capabilities {
	return models.NewCapabilities(models.BackendTurbo, models.BackendPnpm, models.BackendNpm)
}

func installed() *exectest.Runner {
	return exectest.New().Install("turbo", "pnpm", "npm")
}

func TestExecute_PrimarySucceeds(t *testing.T) {
	fake := installed()
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{Batch: 2})

	if !res.Succeeded {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.RunnerUsed != models.BackendTurbo {
		t.Errorf("RunnerUsed = %s, want turbo", res.RunnerUsed)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(res.Attempts))
	}
	if res.Batch != 2 {
		t.Errorf("Batch = %d, want 2", res.Batch)
	}
	if got := fake.Lines(); len(got) != 1 || got[0] != "/fake/bin/turbo run build" {
		t.Errorf("spawned %v", got)
	}
}

func TestExecute_FallbackOnFailure(t *testing.T) {
	fake := installed().On("/fake/bin/turbo", exectest.Response{ExitCode: 1, Stderr: "turbo broke\n"})
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{})

	if !res.Succeeded {
		t.Fatalf("expected success via fallback, got %q", res.Error)
	}
	if res.RunnerUsed != models.BackendPnpm {
		t.Errorf("RunnerUsed = %s, want pnpm", res.RunnerUsed)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %+v, want 2", res.Attempts)
	}
	if res.Attempts[0].ExitCode != 1 || res.Attempts[1].ExitCode != 0 {
		t.Errorf("exit codes = %d, %d", res.Attempts[0].ExitCode, res.Attempts[1].ExitCode)
	}
	if res.Error != "" {
		t.Errorf("Error should be cleared on success, got %q", res.Error)
	}
}

func TestExecute_RetriesPrimaryOnly(t *testing.T) {
	fake := installed().Default(exectest.Response{ExitCode: 2})
	task := buildTask()
	task.Retries = 2
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), task, models.BackendTurbo, allCaps(), Options{})

	if res.Succeeded {
		t.Fatal("expected failure")
	}
	want := []models.Backend{models.BackendTurbo, models.BackendTurbo, models.BackendTurbo, models.BackendPnpm, models.BackendNpm}
	if len(res.Attempts) != len(want) {
		t.Fatalf("attempts = %d, want %d", len(res.Attempts), len(want))
	}
	for i, a := range res.Attempts {
		if a.Runner != want[i] {
			t.Errorf("attempt %d runner = %s, want %s", i, a.Runner, want[i])
		}
		if a.ExitCode != 2 {
			t.Errorf("attempt %d exit = %d, want 2", i, a.ExitCode)
		}
	}
	if !strings.Contains(res.Error, "exit code 2") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestExecute_NoFallback(t *testing.T) {
	fake := installed().Default(exectest.Response{ExitCode: 1})
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{NoFallback: true})

	if res.Succeeded {
		t.Fatal("expected failure")
	}
	if len(res.Attempts) != 1 || fake.CallCount() != 1 {
		t.Errorf("attempts = %d, spawns = %d, want 1 and 1", len(res.Attempts), fake.CallCount())
	}
}

func TestExecute_Timeout(t *testing.T) {
	fake := installed().On("/fake/bin/turbo", exectest.Response{Delay: 2 * time.Second})
	task := buildTask()
	task.Timeout = 50 * time.Millisecond
	task.Fallbacks = nil
	ex := New(fake, t.TempDir())

	start := time.Now()
	res := ex.Execute(context.Background(), task, models.BackendTurbo, allCaps(), Options{})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not honored, took %v", elapsed)
	}
	if res.Succeeded {
		t.Fatal("expected failure")
	}
	a := res.Attempts[0]
	if !a.TimedOut || a.ExitCode != models.ExitCodeTimedOut {
		t.Errorf("attempt = %+v, want timed out with exit -1", a)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestExecute_TimeoutFallsBack(t *testing.T) {
	fake := installed().On("/fake/bin/turbo", exectest.Response{Delay: 2 * time.Second})
	task := buildTask()
	task.Timeout = 50 * time.Millisecond
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), task, models.BackendTurbo, allCaps(), Options{})

	if !res.Succeeded || res.RunnerUsed != models.BackendPnpm {
		t.Errorf("expected pnpm success after timeout, got %+v", res)
	}
}

func TestExecute_DryRunSpawnsNothing(t *testing.T) {
	fake := installed()
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{
		DryRun:     true,
		Frameworks: []string{"web"},
	})

	if fake.CallCount() != 0 {
		t.Fatalf("dry run spawned %d processes", fake.CallCount())
	}
	if !res.Succeeded || !res.DryRun {
		t.Errorf("Succeeded=%t DryRun=%t, want both true", res.Succeeded, res.DryRun)
	}
	if !strings.Contains(res.Stdout, "turbo run build --filter=web") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestExecute_PreferredUnavailable(t *testing.T) {
	fake := exectest.New().Install("npm")
	caps := models.NewCapabilities(models.BackendNpm)
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendNpm, caps, Options{})

	if !res.Succeeded || res.RunnerUsed != models.BackendNpm {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %+v, want 2", res.Attempts)
	}
	first := res.Attempts[0]
	if first.Runner != models.BackendTurbo || !first.Skipped || first.ExitCode != models.ExitCodeUnavailable {
		t.Errorf("first attempt = %+v, want skipped turbo", first)
	}
	if fake.CallCount() != 1 {
		t.Errorf("spawns = %d, want 1", fake.CallCount())
	}
}

func TestExecute_UnavailableFallbackSkipped(t *testing.T) {
	fake := exectest.New().Install("turbo", "npm").On("/fake/bin/turbo", exectest.Response{ExitCode: 1})
	caps := models.NewCapabilities(models.BackendTurbo, models.BackendNpm)
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, caps, Options{})

	if !res.Succeeded || res.RunnerUsed != models.BackendNpm {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Attempts) != 3 || !res.Attempts[1].Skipped || res.Attempts[1].Runner != models.BackendPnpm {
		t.Errorf("attempts = %+v, want pnpm skipped in the middle", res.Attempts)
	}
	for _, line := range fake.Lines() {
		if strings.Contains(line, "pnpm") {
			t.Errorf("pnpm was spawned: %s", line)
		}
	}
}

func TestExecute_NeverRepeatsPair(t *testing.T) {
	fake := installed().Default(exectest.Response{ExitCode: 1})
	task := buildTask()
	task.Fallbacks = append(task.Fallbacks,
		models.Fallback{Runner: models.BackendPnpm, Command: "build"},
		models.Fallback{Runner: models.BackendTurbo, Command: "build"},
	)
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), task, models.BackendTurbo, allCaps(), Options{})

	seen := make(map[string]bool)
	for _, line := range fake.Lines() {
		if seen[line] {
			t.Errorf("spawned %q twice", line)
		}
		seen[line] = true
	}
	if len(res.Attempts) != 3 {
		t.Errorf("attempts = %d, want 3", len(res.Attempts))
	}
}

func TestExecute_CanceledContextStops(t *testing.T) {
	fake := installed().Default(exectest.Response{Delay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	ex := New(fake, t.TempDir())

	res := ex.Execute(ctx, buildTask(), models.BackendTurbo, allCaps(), Options{})

	if res.Succeeded {
		t.Fatal("expected failure")
	}
	if fake.CallCount() != 1 {
		t.Errorf("spawns = %d, want 1 after cancel", fake.CallCount())
	}
	if !strings.Contains(res.Error, context.Canceled.Error()) {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestExecute_VerboseStreams(t *testing.T) {
	fake := installed().On("/fake/bin/turbo", exectest.Response{Stdout: "compiling\ndone", Stderr: "warn\n"})
	var out, errOut bytes.Buffer
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{
		Verbose:   true,
		Output:    &out,
		ErrOutput: &errOut,
	})

	if got, want := out.String(), "[build] compiling\n[build] done\n"; got != want {
		t.Errorf("streamed stdout = %q, want %q", got, want)
	}
	if got, want := errOut.String(), "[build] warn\n"; got != want {
		t.Errorf("streamed stderr = %q, want %q", got, want)
	}
	if res.Stdout != "compiling\ndone" {
		t.Errorf("captured stdout = %q", res.Stdout)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("closed pipe") }

func TestExecute_StreamFlushErrorIsLogged(t *testing.T) {
	fake := installed().On("/fake/bin/turbo", exectest.Response{Stdout: "no trailing newline"})
	ex := New(fake, t.TempDir())
	var logged []string
	ex.SetDebugLog(func(format string, args ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{
		Verbose:   true,
		Output:    failingWriter{},
		ErrOutput: failingWriter{},
	})

	if !res.Succeeded {
		t.Errorf("stream errors should not fail the task: %+v", res)
	}
	found := false
	for _, l := range logged {
		if strings.Contains(l, "flushing streamed output") && strings.Contains(l, "closed pipe") {
			found = true
		}
	}
	if !found {
		t.Errorf("flush error not logged: %q", logged)
	}
}

func TestLineWriter_Flush(t *testing.T) {
	var mu sync.Mutex
	var out bytes.Buffer
	lw := newLineWriter(&out, "[x] ", &mu)
	lw.Write([]byte("a\nb"))
	if err := lw.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got, want := out.String(), "[x] a\n[x] b\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if err := lw.Flush(); err != nil {
		t.Errorf("second Flush() error = %v", err)
	}

	failing := newLineWriter(failingWriter{}, "[x] ", &mu)
	failing.Write([]byte("partial"))
	if err := failing.Flush(); err == nil {
		t.Error("Flush() should return the write error")
	}
}

func TestExecute_QuietCapturesOnly(t *testing.T) {
	fake := installed().On("/fake/bin/turbo", exectest.Response{Stdout: "x\n"})
	var out bytes.Buffer
	ex := New(fake, t.TempDir())

	res := ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{Output: &out})

	if out.Len() != 0 {
		t.Errorf("non-verbose run streamed %q", out.String())
	}
	if res.Stdout != "x\n" {
		t.Errorf("captured stdout = %q", res.Stdout)
	}
}

func TestExecute_DebugLog(t *testing.T) {
	fake := installed()
	ex := New(fake, t.TempDir())
	var lines []string
	ex.SetDebugLog(func(format string, args ...interface{}) {
		lines = append(lines, format)
	})

	ex.Execute(context.Background(), buildTask(), models.BackendTurbo, allCaps(), Options{})

	if len(lines) == 0 {
		t.Error("expected debug output")
	}
}

func TestErrorTypes(t *testing.T) {
	var err error = &ExecutionFailure{Task: "lint", Runner: models.BackendNpm, ExitCode: 3}
	if !errors.Is(err, ErrExecution) || errors.Is(err, ErrTimeout) {
		t.Error("ExecutionFailure should match ErrExecution only")
	}
	err = &TimeoutError{Task: "lint", Runner: models.BackendNpm, Timeout: time.Second}
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrExecution) {
		t.Error("TimeoutError should match ErrTimeout only")
	}
}
