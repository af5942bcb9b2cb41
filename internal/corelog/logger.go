// Package corelog is the trace sink the core hands warnings to.
//
// It deliberately has no global state: callers construct a *Logger over
// whatever io.Writer they like (os.Stderr, a bytes.Buffer in a test, or
// ioutil.Discard) and attach it, through their SetLogger methods, to the
// components that need it. A nil *Logger is valid and silently discards everything, so core
// code never has to nil-check before logging.
package corelog

import (
	"fmt"
	"io"
)

// Logger is a minimal wrapper around an io.Writer.
type Logger struct {
	io.Writer
}

// New returns a new logger which writes to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// Logln logs a line. It is a no-op on a nil *Logger.
func (l *Logger) Logln(args ...interface{}) {
	if l == nil || l.Writer == nil {
		return
	}
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string. It is a no-op on a nil *Logger.
func (l *Logger) Logf(f string, args ...interface{}) {
	if l == nil || l.Writer == nil {
		return
	}
	fmt.Fprintf(l, f, args...)
}

// Warnf logs a formatted warning, prefixed with "warning: ".
func (l *Logger) Warnf(f string, args ...interface{}) {
	l.Logf("warning: "+f+"\n", args...)
}
