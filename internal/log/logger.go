package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ExitFatalLogging is the process exit status used when the log sink itself fails.
const ExitFatalLogging = 70

var (
	once   sync.Once
	logger *slog.Logger

	// fatal is invoked when the log sink cannot be written. Tests replace it.
	fatal = func(err error) {
		fmt.Fprintf(os.Stderr, "deckrelay: %v\n", err)
		os.Exit(ExitFatalLogging)
	}
)

// FatalError reports that the logging path itself failed. There is no lower
// channel left to report through, so the process aborts.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("log sink failed: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// guardedWriter escalates write failures to the fatal hook. slog drops handler
// errors silently, so the sink is the only place they can be observed.
type guardedWriter struct {
	w io.Writer
}

func (g guardedWriter) Write(p []byte) (int, error) {
	n, err := g.w.Write(p)
	if err != nil {
		fatal(&FatalError{Err: err})
	}
	return n, err
}

// Setup initializes the global logger writing JSON to stderr.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	SetupWriter(level, "json", os.Stderr)
}

// SetupWriter initializes the global logger with an explicit format and sink.
// Only the first call takes effect.
func SetupWriter(level, format string, w io.Writer) {
	once.Do(func() {
		logger = newLogger(level, format, w)
		slog.SetDefault(logger)
	})
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	sink := guardedWriter{w: w}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithContext returns a logger with the host context id set.
func WithContext(contextID string) *slog.Logger {
	return Get().With(slog.String("context", contextID))
}

// WithRelay returns a logger with the relay identifier set.
func WithRelay(identifier string) *slog.Logger {
	return Get().With(slog.String("relay_id", identifier))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
