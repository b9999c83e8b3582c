// Package logging provides a small leveled logger with text and JSON output.
// Diagnostic output goes here; generated SQL goes to the sink package.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the uppercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// lower returns the lowercase name used in JSON output.
func (l Level) lower() string {
	return strings.ToLower(l.String())
}

// ParseLevel converts a level name to a Level. Accepts any casing and the
// "warning" alias. Returns LevelInfo and an error for unknown names.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	format = "text"
	out    io.Writer = os.Stderr
)

// SetLevel sets the minimum level that will be logged.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// SetFormat sets the output format: "text" or "json".
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f == "json" {
		format = "json"
	} else {
		format = "text"
	}
}

// SetOutput redirects log output. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		out = os.Stderr
	} else {
		out = w
	}
}

// Debug logs a message at debug level.
func Debug(format string, args ...interface{}) { log(LevelDebug, format, args...) }

// Info logs a message at info level.
func Info(format string, args ...interface{}) { log(LevelInfo, format, args...) }

// Warn logs a message at warn level.
func Warn(format string, args ...interface{}) { log(LevelWarn, format, args...) }

// Error logs a message at error level.
func Error(format string, args ...interface{}) { log(LevelError, format, args...) }

func log(l Level, msgFormat string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if l < level {
		return
	}

	msg := fmt.Sprintf(msgFormat, args...)
	now := time.Now()

	if format == "json" {
		entry := map[string]interface{}{
			"ts":    now.Format(time.RFC3339Nano),
			"level": l.lower(),
			"msg":   msg,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(out, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), l, msg)
			return
		}
		fmt.Fprintln(out, string(b))
		return
	}

	fmt.Fprintf(out, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), l, msg)
}
