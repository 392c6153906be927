// Package logx is the leveled logger every other package in this module
// writes through, styled after xtaci/kcptun's own use of the standard log
// package plus fatih/color for its startup banner and warning lines.
package logx

import (
	"log"
	"os"

	"github.com/fatih/color"
)

var (
	warnPrefix  = color.New(color.FgYellow).Sprint("WARN ")
	errorPrefix = color.New(color.FgRed).Sprint("ERROR ")
	fatalPrefix = color.New(color.FgRed, color.Bold).Sprint("FATAL ")
)

// Logger is a named leveled logger. The zero value is unusable; use New.
type Logger struct {
	name string
}

// New returns a Logger that prefixes every line with name, matching
// spec.md §7's taxonomy: Warn for recoverable wire/I-O problems, Fatal for
// store/file errors that must stop the owning component.
func New(name string) *Logger {
	return &Logger{name: name}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

// Infof logs an informational line.
func (l *Logger) Infof(format string, args ...interface{}) {
	log.Printf("["+l.name+"] "+format, args...)
}

// Warnf logs a recoverable-condition line per spec.md §7's "log warn;
// component stays up" policy.
func (l *Logger) Warnf(format string, args ...interface{}) {
	log.Printf(warnPrefix+"["+l.name+"] "+format, args...)
}

// Errorf logs a non-fatal error.
func (l *Logger) Errorf(format string, args ...interface{}) {
	log.Printf(errorPrefix+"["+l.name+"] "+format, args...)
}

// Fatalf logs a line at fatal severity per spec.md §7's "fatal to the
// component that encountered it" policy. It does not exit the process or
// panic - per spec.md §7 the scope of "fatal" is the owning component, which
// is expected to call activation.Activator.NotReady()+Stop() itself right
// after logging. Process-wide exit, if any, is the cmd/ binary's call.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	log.Printf(fatalPrefix+"["+l.name+"] "+format, args...)
}

// Banner prints a colored startup banner line, matching the teacher's
// color.Cyan/color.Green banner prints in server/main.go and client/main.go.
func Banner(format string, args ...interface{}) {
	color.New(color.FgCyan, color.Bold).Fprintf(os.Stdout, format+"\n", args...)
}
