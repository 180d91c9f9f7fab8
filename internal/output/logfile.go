package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Log file permissions.
const (
	logDirPermissions  = 0750
	logFilePermissions = 0640

	// logTimeLayout is the timestamp embedded in log file names.
	logTimeLayout = "20060102-150405.000"
)

// Logger is the logging interface used to report log file failures.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Logfile is the append-only on-disk copy of one instance's output.
//
// Each line is written synchronously as "[STDOUT] text" or "[STDERR] text".
// Write failures never reach the caller: the first one is logged and the
// rest are dropped silently. A nil *Logfile is valid and discards writes.
type Logfile struct {
	path   string
	logger Logger

	mu     sync.Mutex
	file   *os.File
	closed bool

	enabled atomic.Bool
	warned  atomic.Bool
}

// LogfileName builds "<type>_<timestamp>_<uid8>.log". Characters that are
// awkward in file names are replaced with underscores.
func LogfileName(typeName, uid string, started time.Time) string {
	short := uid
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_%s.log", sanitizeName(typeName), started.Format(logTimeLayout), short)
}

// OpenLogfile creates the log file for an instance under dir.
func OpenLogfile(dir, typeName, uid string, started time.Time, logger Logger) (*Logfile, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(dir, LogfileName(typeName, uid, started))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) //nolint:gosec // path built from sanitised parts
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	l := &Logfile{
		path:   path,
		logger: logger,
		file:   f,
	}
	l.enabled.Store(true)
	return l, nil
}

// Path returns the file location, or "" for a nil Logfile.
func (l *Logfile) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// SetEnabled toggles writing without closing the file. Buffering of
// output is unaffected.
func (l *Logfile) SetEnabled(on bool) {
	if l == nil {
		return
	}
	l.enabled.Store(on)
}

// Enabled reports whether lines are currently written.
func (l *Logfile) Enabled() bool {
	return l != nil && l.enabled.Load()
}

// Write appends one tagged line.
func (l *Logfile) Write(stream Stream, text string) {
	if l == nil || !l.enabled.Load() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if _, err := fmt.Fprintf(l.file, "[%s] %s\n", stream.Tag(), text); err != nil {
		if l.warned.CompareAndSwap(false, true) {
			l.logger.Warn("output log write failed, further failures suppressed",
				"path", l.path,
				"error", err,
			)
		}
	}
}

// Close closes the file. Later writes are discarded.
func (l *Logfile) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing output log: %w", err)
	}
	return nil
}

// sanitizeName keeps letters, digits, dot, dash and underscore.
func sanitizeName(name string) string {
	if name == "" {
		return "instance"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
