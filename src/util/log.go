package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger writes leveled diagnostics. Debug output is only written in verbose mode, and level prefixes are coloured
// when the destination is a terminal.
type Logger struct {
	mx      sync.Mutex
	out     io.Writer
	color   bool
	verbose bool
}

// Log levels.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelPrefix = [...]string{"debug", "info", "warn", "error"}
var levelColor = [...]string{"\x1b[90m", "\x1b[36m", "\x1b[33m", "\x1b[31m"}

// NewLogger returns a Logger writing to stderr.
func NewLogger(verbose bool) *Logger {
	f := os.Stderr
	return &Logger{
		out:     colorable.NewColorable(f),
		color:   isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
		verbose: verbose,
	}
}

// NewLoggerTo returns an uncoloured Logger writing to w.
func NewLoggerTo(w io.Writer, verbose bool) *Logger {
	return &Logger{
		out:     colorable.NewNonColorable(w),
		verbose: verbose,
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, false)
}

// Verbose returns true if debug output is enabled.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Verbose() {
		l.log(LevelDebug, format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

func (l *Logger) log(level int, format string, args ...interface{}) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.color {
		_, _ = fmt.Fprintf(l.out, "%s%-5s\x1b[0m %s\n", levelColor[level], levelPrefix[level], msg)
	} else {
		_, _ = fmt.Fprintf(l.out, "%-5s %s\n", levelPrefix[level], msg)
	}
}
