package logging

import (
	"fmt"
	"io"
	"sync"
)

// Logger is the leveled sink handed to components that must not depend on
// the package-level logger. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(messageFmt string, args ...interface{})
	Info(messageFmt string, args ...interface{})
	Warn(err error, messageFmt string, args ...interface{})
	Error(err error, messageFmt string, args ...interface{})
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return discardLogger{}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...interface{}) {}
func (discardLogger) Info(string, ...interface{}) {}
func (discardLogger) Warn(error, string, ...interface{}) {}
func (discardLogger) Error(error, string, ...interface{}) {}

// ForSubsystem returns a Logger that forwards to the package-level slog
// logger configured by InitForCLI, tagging every entry with subsystem.
func ForSubsystem(subsystem string) Logger {
	return subsystemLogger{subsystem: subsystem}
}

type subsystemLogger struct {
	subsystem string
}

func (l subsystemLogger) Debug(messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, l.subsystem, nil, messageFmt, args...)
}

func (l subsystemLogger) Info(messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, l.subsystem, nil, messageFmt, args...)
}

func (l subsystemLogger) Warn(err error, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, l.subsystem, err, messageFmt, args...)
}

func (l subsystemLogger) Error(err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, l.subsystem, err, messageFmt, args...)
}

// NewConsole returns a Logger writing plain "LEVEL - message" lines to out.
// It is the fallback used when no structured sink is configured.
func NewConsole(out io.Writer) Logger {
	return &consoleLogger{out: out}
}

type consoleLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleLogger) write(level LogLevel, err error, messageFmt string, args ...interface{}) {
	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		fmt.Fprintf(c.out, "%s - %s with error: %v\n", level, msg, err)
		return
	}
	fmt.Fprintf(c.out, "%s - %s\n", level, msg)
}

func (c *consoleLogger) Debug(messageFmt string, args ...interface{}) {
	c.write(LevelDebug, nil, messageFmt, args...)
}

func (c *consoleLogger) Info(messageFmt string, args ...interface{}) {
	c.write(LevelInfo, nil, messageFmt, args...)
}

func (c *consoleLogger) Warn(err error, messageFmt string, args ...interface{}) {
	c.write(LevelWarn, err, messageFmt, args...)
}

func (c *consoleLogger) Error(err error, messageFmt string, args ...interface{}) {
	c.write(LevelError, err, messageFmt, args...)
}
