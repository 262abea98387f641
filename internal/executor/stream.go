package executor

import (
	"bytes"
	"io"
	"sync"
)

// lineWriter prefixes each complete line before writing it to a shared
// destination. Writers sharing mu never interleave within a line.
type lineWriter struct {
	w      io.Writer
	prefix []byte
	mu     *sync.Mutex
	buf    []byte
}

func newLineWriter(w io.Writer, prefix string, mu *sync.Mutex) *lineWriter {
	return &lineWriter{w: w, prefix: []byte(prefix), mu: mu}
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if err := l.emit(l.buf[:i+1]); err != nil {
			return len(p), err
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush writes any trailing partial line.
func (l *lineWriter) Flush() error {
	if len(l.buf) == 0 {
		return nil
	}
	line := append(l.buf, '\n')
	l.buf = nil
	return l.emit(line)
}

func (l *lineWriter) emit(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(l.prefix); err != nil {
		return err
	}
	_, err := l.w.Write(line)
	return err
}
