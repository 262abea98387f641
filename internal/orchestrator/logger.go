package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends timestamped lines to a debug log file. A nil logger
// or one without a destination discards everything, so callers never check.
type DebugLogger struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

// DefaultLogPath is the debug log location inside a project.
func DefaultLogPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".stackrun", "logs", "orchestrator-debug.log")
}

// NewDebugLogger opens (appending) the log at logPath, creating parent
// directories. An empty path yields a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{w: f, f: f}
	l.Log("=== stackrun debug log started at %s (pid %d) ===", time.Now().Format(time.RFC3339), os.Getpid())
	return l, nil
}

// NewDebugLoggerForProject opens the default project log, falling back to a
// no-op logger when the file cannot be created.
func NewDebugLoggerForProject(projectRoot string) *DebugLogger {
	l, err := NewDebugLogger(DefaultLogPath(projectRoot))
	if err != nil {
		return NopLogger()
	}
	return l
}

// NewWriterLogger logs to w, which the logger never closes.
func NewWriterLogger(w io.Writer) *DebugLogger {
	return &DebugLogger{w: w}
}

// NopLogger discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line. Its signature matches the SetDebugLog
// hooks of the graph, detect, executor and watch packages.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.w, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	if l.f != nil {
		l.f.Sync()
	}
}

// Close closes the log file, if the logger owns one.
func (l *DebugLogger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.f.Close()
	l.w, l.f = nil, nil
	return err
}
