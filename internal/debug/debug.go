package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is a diagnostic severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
	}
	return "?"
}

// Build flag for verbose mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/jweave/internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	mu       sync.Mutex
	output   io.Writer = os.Stderr
	logFile  *os.File
	minLevel = LevelInfo
)

// SetOutput sets the writer for diagnostic output. Pass nil to discard.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// SetLevel sets the minimum severity that is emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// InitLogFile redirects diagnostics to a timestamped file under the OS temp
// directory and returns its path. Call Close when done.
func InitLogFile() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	logDir := filepath.Join(os.TempDir(), "jweave-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("jweave-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = file
	output = file
	return logPath, nil
}

// Close closes the log file if one is open and restores stderr output.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		output = os.Stderr
		return err
	}
	return nil
}

// debugEnabled reports whether DEBUG-level output is on, via build flag or
// environment.
func debugEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	return os.Getenv("JWEAVE_DEBUG") == "1" || os.Getenv("JWEAVE_DEBUG") == "true"
}

func emit(l Level, component, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if output == nil {
		return
	}
	if l < minLevel && !(l == LevelDebug && debugEnabled()) {
		return
	}
	if component != "" {
		fmt.Fprintf(output, "[%s:%s] "+format+"\n", append([]any{l, component}, args...)...)
		return
	}
	fmt.Fprintf(output, "[%s] "+format+"\n", append([]any{l}, args...)...)
}

// Printf emits a DEBUG line.
func Printf(format string, args ...any) { emit(LevelDebug, "", format, args...) }

// Infof emits an INFO line.
func Infof(format string, args ...any) { emit(LevelInfo, "", format, args...) }

// Warnf emits a WARN line.
func Warnf(format string, args ...any) { emit(LevelWarn, "", format, args...) }

// Errorf emits an ERROR line.
func Errorf(format string, args ...any) { emit(LevelError, "", format, args...) }

// Log emits a line tagged with a component name.
func Log(l Level, component, format string, args ...any) {
	emit(l, component, format, args...)
}

// LogApply logs applicator decisions.
func LogApply(l Level, format string, args ...any) { emit(l, "APPLY", format, args...) }

// LogInject logs injector decisions.
func LogInject(l Level, format string, args ...any) { emit(l, "INJECT", format, args...) }

// LogHierarchy logs class hierarchy resolution events.
func LogHierarchy(l Level, format string, args ...any) { emit(l, "HIERARCHY", format, args...) }
