// Package console is the charmbracelet/log backend of the logger facade.
package console

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// ConsoleLogger writes leveled lines to a terminal or, in JSON mode, to a
// log shipper.
type ConsoleLogger struct {
	logger *log.Logger
}

// ConsoleLoggerParams configures NewConsoleLogger.
type ConsoleLoggerParams struct {
	Debug bool
	// JSON switches to one JSON object per line.
	JSON bool
	// Prefix is prepended to every line, e.g. the process name.
	Prefix string
	// Output defaults to stderr.
	Output io.Writer
}

func NewConsoleLogger(params ConsoleLoggerParams) *ConsoleLogger {
	opts := log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
		Formatter:       log.TextFormatter,
		Prefix:          params.Prefix,
	}
	if params.Debug {
		opts.Level = log.DebugLevel
	}
	if params.JSON {
		opts.Formatter = log.JSONFormatter
	}
	out := params.Output
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleLogger{logger: log.NewWithOptions(out, opts)}
}

func (c *ConsoleLogger) Log(message string, keyvals ...any) {
	c.logger.Print(message, keyvals...)
}

func (c *ConsoleLogger) Debug(message string, keyvals ...any) {
	c.logger.Log(log.DebugLevel, message, keyvals...)
}

func (c *ConsoleLogger) Info(message string, keyvals ...any) {
	c.logger.Log(log.InfoLevel, message, keyvals...)
}

func (c *ConsoleLogger) Warn(message string, keyvals ...any) {
	c.logger.Log(log.WarnLevel, message, keyvals...)
}

func (c *ConsoleLogger) Error(message string, keyvals ...any) {
	c.logger.Log(log.ErrorLevel, message, keyvals...)
}

// Fatal logs and exits the process with status 1.
func (c *ConsoleLogger) Fatal(message string, keyvals ...any) {
	c.logger.Fatal(message, keyvals...)
}
