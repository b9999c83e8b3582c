// Package sink routes generated SQL and run commentary to the console and,
// optionally, to an output file. The sink is the sole persisted artifact of
// a dry run, so every statement and outcome passes through it.
package sink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Sink duplicates output to the console and an optional file. It is shared
// by all workers, so writes are serialized.
type Sink struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
}

// New creates a sink writing to console. When path is non-empty the output
// is duplicated to that file, truncating any existing content.
func New(console io.Writer, path string) (*Sink, error) {
	s := &Sink{console: console}

	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("opening output file: %w", err)
		}
		s.file = f
	}

	return s, nil
}

// Write emits one line of output verbatim.
func (s *Sink) Write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(line)
}

// Commentf emits a SQL comment tagged with the worker that produced it.
// Multi-line bodies are wrapped in a block comment so the output stays a
// valid script.
func (s *Sink) Commentf(workerID int, format string, args ...any) {
	body := fmt.Sprintf(format, args...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.Contains(body, "\n") {
		s.write(fmt.Sprintf("/* [%d]\n%s\n*/", workerID, body))
		return
	}
	s.write(fmt.Sprintf("-- [%d] %s", workerID, body))
}

// Statement emits one generated SQL statement.
func (s *Sink) Statement(sql string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(sql)
}

func (s *Sink) write(line string) {
	fmt.Fprintln(s.console, line)
	if s.file != nil {
		fmt.Fprintln(s.file, line)
		s.file.Sync()
	}
}

// Close releases the output file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
