// Package logger is a small leveled wrapper around the standard log package.
//
// Messages are written as "LEVEL message" and callers tag the component in the
// message itself, e.g. logger.Infof("[session] %s started", id).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a log severity. Lower values are more verbose.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level tag used in log lines.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

var (
	std   = log.New(os.Stderr, "", log.LstdFlags)
	level atomic.Int32
)

func init() {
	level.Store(int32(LevelInfo))
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) { level.Store(int32(l)) }

// GetLevel returns the current minimum level.
func GetLevel() Level { return Level(level.Load()) }

// Enabled reports whether messages at l are currently written.
func Enabled(l Level) bool { return l >= GetLevel() }

// SetOutput redirects log output.
func SetOutput(w io.Writer) { std.SetOutput(w) }

// SetFlags sets the standard log flags on the underlying logger.
func SetFlags(flags int) { std.SetFlags(flags) }

func logf(l Level, format string, args ...any) {
	if !Enabled(l) {
		return
	}
	_ = std.Output(3, l.String()+" "+fmt.Sprintf(format, args...))
}

// Tracef logs at trace level.
func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
