package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes log entries to stdout/stderr or to custom writers.
type ConsoleOutput struct {
	mu            sync.Mutex
	useStderr     bool
	errorToStderr bool
	writer        io.Writer
	errorWriter   io.Writer
}

// ConsoleOutputOption is a function that configures a ConsoleOutput.
type ConsoleOutputOption func(*ConsoleOutput)

// WithStderr sends every entry to stderr. CLI commands use it so stdout
// stays reserved for command output.
func WithStderr() ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.useStderr = true
	}
}

// WithErrorToStderr sends error entries to stderr.
func WithErrorToStderr() ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.errorToStderr = true
	}
}

// WithCustomWriter configures the ConsoleOutput to use a custom writer.
func WithCustomWriter(writer io.Writer) ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.writer = writer
	}
}

// WithCustomErrorWriter configures the ConsoleOutput to use a custom error writer.
func WithCustomErrorWriter(writer io.Writer) ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.errorWriter = writer
	}
}

// NewConsoleOutput creates a new ConsoleOutput with the given options.
func NewConsoleOutput(options ...ConsoleOutputOption) *ConsoleOutput {
	o := &ConsoleOutput{}
	for _, option := range options {
		option(o)
	}
	return o
}

// Write writes the log entry to the console.
func (o *ConsoleOutput) Write(entry *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var writer io.Writer
	switch {
	case o.writer != nil:
		writer = o.writer
	case o.useStderr:
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	if entry.Level == ErrorLevel && o.errorToStderr {
		if o.errorWriter != nil {
			writer = o.errorWriter
		} else if o.writer == nil {
			writer = os.Stderr
		}
	}

	_, err := writer.Write(formattedEntry)
	return err
}

// Close implements the Output interface but does nothing for console output.
func (o *ConsoleOutput) Close() error {
	return nil
}

// NullOutput discards all log entries.
type NullOutput struct{}

func (o *NullOutput) Write(entry *Entry, formattedEntry []byte) error { return nil }
func (o *NullOutput) Close() error                                  { return nil }

// NewNullOutput creates a new NullOutput.
func NewNullOutput() *NullOutput {
	return &NullOutput{}
}
