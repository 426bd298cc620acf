package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ColorCode returns the ANSI color code for the log level
func (l LogLevel) ColorCode() string {
	switch l {
	case LogLevelDebug:
		return "\033[36m" // Cyan
	case LogLevelInfo:
		return "\033[32m" // Green
	case LogLevelWarn:
		return "\033[33m" // Yellow
	case LogLevelError:
		return "\033[31m" // Red
	case LogLevelFatal:
		return "\033[35m" // Magenta
	default:
		return "\033[0m"
	}
}

// Logger interface defines the logging contract
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})

	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	SetFormat(format LogFormat)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LeveledLogger is the subset of Logger used by library packages
type LeveledLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NopLogger returns a logger that discards everything
func NopLogger() LeveledLogger { return nopLogger{} }

// LogFormat represents the log output format
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
	LogFormatCompact
)

// LoggerConfig contains logger configuration
type LoggerConfig struct {
	Level       LogLevel
	Format      LogFormat
	Output      io.Writer
	FilePath    string // tee to this file when set
	EnableColor bool
}

// DefaultLoggerConfig returns a default logger configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:       LogLevelInfo,
		Format:      LogFormatText,
		Output:      os.Stderr,
		EnableColor: true,
	}
}

// sink is shared between a logger and the children created by WithField.
type sink struct {
	mu     sync.Mutex
	config *LoggerConfig
	out    io.Writer
	file   *os.File
	now    func() time.Time
}

// ConsoleLogger is the leveled logger used by the CLI
type ConsoleLogger struct {
	sink   *sink
	fields map[string]interface{}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *LoggerConfig) (*ConsoleLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	s := &sink{config: config, now: time.Now}
	if err := s.setupOutput(); err != nil {
		return nil, fmt.Errorf("failed to setup logger output: %w", err)
	}

	return &ConsoleLogger{sink: s, fields: map[string]interface{}{}}, nil
}

func (s *sink) setupOutput() error {
	out := s.config.Output
	if out == nil {
		out = os.Stderr
	}

	if s.config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(s.config.FilePath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(s.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		s.file = file
		out = io.MultiWriter(out, file)
	}

	s.out = out
	return nil
}

// Debug logs a debug message
func (l *ConsoleLogger) Debug(msg string, args ...interface{}) { l.log(LogLevelDebug, msg, args...) }

// Info logs an info message
func (l *ConsoleLogger) Info(msg string, args ...interface{}) { l.log(LogLevelInfo, msg, args...) }

// Warn logs a warning message
func (l *ConsoleLogger) Warn(msg string, args ...interface{}) { l.log(LogLevelWarn, msg, args...) }

// Error logs an error message
func (l *ConsoleLogger) Error(msg string, args ...interface{}) { l.log(LogLevelError, msg, args...) }

// Fatal logs a fatal message and exits
func (l *ConsoleLogger) Fatal(msg string, args ...interface{}) {
	l.log(LogLevelFatal, msg, args...)
	os.Exit(1)
}

func (l *ConsoleLogger) log(level LogLevel, msg string, args ...interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.config.Level {
		return
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	fmt.Fprintln(l.sink.out, l.createLogEntry(level, msg))
}

func (l *ConsoleLogger) createLogEntry(level LogLevel, msg string) string {
	timestamp := l.sink.now().Format("2006-01-02 15:04:05")

	switch l.sink.config.Format {
	case LogFormatJSON:
		return l.createJSONEntry(level, msg, timestamp)
	case LogFormatCompact:
		return l.colorize(level, fmt.Sprintf("%s %s %s", level.String()[:1], timestamp[11:19], msg))
	default:
		return l.createTextEntry(level, msg, timestamp)
	}
}

func (l *ConsoleLogger) createTextEntry(level LogLevel, msg string, timestamp string) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("[%s] %-5s", timestamp, level.String()))

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
		}
		builder.WriteString(" {" + strings.Join(parts, ", ") + "}")
	}

	builder.WriteString(" " + msg)
	return l.colorize(level, builder.String())
}

func (l *ConsoleLogger) createJSONEntry(level LogLevel, msg string, timestamp string) string {
	entry := make(map[string]interface{}, len(l.fields)+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	entry["timestamp"] = timestamp
	entry["level"] = level.String()
	entry["message"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"message":%q}`, level.String(), msg)
	}
	return string(data)
}

func (l *ConsoleLogger) colorize(level LogLevel, line string) string {
	if !l.sink.config.EnableColor {
		return line
	}
	return level.ColorCode() + line + "\033[0m"
}

// SetLevel sets the logging level
func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	l.sink.config.Level = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer
func (l *ConsoleLogger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.config.Output = w
	if l.sink.file != nil {
		l.sink.out = io.MultiWriter(w, l.sink.file)
		return
	}
	l.sink.out = w
}

// SetFormat sets the log format
func (l *ConsoleLogger) SetFormat(format LogFormat) {
	l.sink.mu.Lock()
	l.sink.config.Format = format
	l.sink.mu.Unlock()
}

// WithField returns a logger with an additional field
func (l *ConsoleLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger with additional fields
func (l *ConsoleLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ConsoleLogger{sink: l.sink, fields: merged}
}

// Close closes the log file, if any
func (l *ConsoleLogger) Close() error {
	if l.sink.file != nil {
		return l.sink.file.Close()
	}
	return nil
}

var (
	globalMu     sync.Mutex
	globalLogger Logger
)

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(config *LoggerConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	return nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultLoggerConfig())
		globalLogger = logger
	}
	return globalLogger
}

// Convenience functions for global logger
func Debug(msg string, args ...interface{}) {
	GetGlobalLogger().Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	GetGlobalLogger().Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	GetGlobalLogger().Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	GetGlobalLogger().Error(msg, args...)
}
