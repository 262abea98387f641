package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunner_Success(t *testing.T) {
	skipOnWindows(t)
	var stdout bytes.Buffer
	res, err := NewRunner().Run(context.Background(), Spec{
		Name:   "sh",
		Args:   []string{"-c", "echo hello"},
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(stdout.String()) != "hello" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	var stderr bytes.Buffer
	res, err := NewRunner().Run(context.Background(), Spec{
		Name:   "sh",
		Args:   []string{"-c", "echo boom >&2; exit 3"},
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	skipOnWindows(t)
	start := time.Now()
	res, err := NewRunner().Run(context.Background(), Spec{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("child was not killed on timeout")
	}
}

func TestExecRunner_EnvAndDir(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	var stdout bytes.Buffer
	_, err := NewRunner().Run(context.Background(), Spec{
		Name:   "sh",
		Args:   []string{"-c", "echo $STACKRUN_TEST_VAR; pwd"},
		Dir:    dir,
		Env:    []string{"STACKRUN_TEST_VAR=value"},
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "value") {
		t.Errorf("env not passed: %q", out)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(out, dir) && !strings.Contains(out, resolved) {
		t.Errorf("dir not applied: %q", out)
	}
}

func TestExecRunner_StartFailure(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Spec{Name: "stackrun-definitely-missing-binary"})
	if err == nil {
		t.Fatal("expected start error")
	}
	if res.ExitCode != 127 {
		t.Errorf("ExitCode = %d, want 127", res.ExitCode)
	}
}

func TestExecRunner_ParentCanceled(t *testing.T) {
	skipOnWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := NewRunner().Run(ctx, Spec{Name: "sleep", Args: []string{"5"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExecRunner_LookPathExtraDirs(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	bin := filepath.Join(dir, "stackrun-local-tool")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	r := NewRunner()
	if _, err := r.LookPath("stackrun-local-tool"); err == nil {
		t.Fatal("tool should not be on PATH")
	}
	got, err := r.LookPath("stackrun-local-tool", dir)
	if err != nil {
		t.Fatalf("LookPath failed: %v", err)
	}
	if got != bin {
		t.Errorf("LookPath = %q, want %q", got, bin)
	}
}
