package logutil

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string into a LogLevel, defaulting to INFO
func ParseLevel(value string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func (l LogLevel) logrusLevel() log.Level {
	switch l {
	case DEBUG:
		return log.DebugLevel
	case WARN:
		return log.WarnLevel
	case ERROR:
		return log.ErrorLevel
	case FATAL:
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       LogLevel
	Format      string // "json" or "text"
	ServiceName string
	AddCaller   bool
	Output      io.Writer // defaults to stdout
}

// Logger provides structured logging functionality
type Logger struct {
	config LogConfig
	logger *log.Logger
}

// DefaultLogConfig provides sensible logging defaults
var DefaultLogConfig = LogConfig{
	Level:       INFO,
	Format:      "text",
	ServiceName: "chatbae",
	AddCaller:   false,
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config LogConfig) *Logger {
	l := log.New()
	l.SetLevel(config.Level.logrusLevel())
	l.SetReportCaller(config.AddCaller)

	if config.Output != nil {
		l.SetOutput(config.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	if config.Format == "json" {
		l.SetFormatter(&log.JSONFormatter{
			FieldMap: log.FieldMap{
				log.FieldKeyTime: "timestamp",
				log.FieldKeyMsg:  "message",
			},
		})
	} else {
		l.SetFormatter(&log.TextFormatter{
			FullTimestamp:    true,
			DisableColors:    true,
			QuoteEmptyFields: true,
		})
	}

	return &Logger{
		config: config,
		logger: l,
	}
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	return NewLogger(DefaultLogConfig)
}

// NewDiscardLogger creates a logger that drops everything, for tests
func NewDiscardLogger() *Logger {
	cfg := DefaultLogConfig
	cfg.Output = io.Discard
	return NewLogger(cfg)
}

// Fields represents structured log fields
type Fields map[string]interface{}

// shouldLog determines if a message should be logged based on level
func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.config.Level
}

// entry builds a logrus entry carrying the service name and fields
func (l *Logger) entry(fields Fields) *log.Entry {
	e := l.logger.WithField("service", l.config.ServiceName)
	if len(fields) > 0 {
		e = e.WithFields(log.Fields(fields))
	}
	return e
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, msg string, fields Fields) {
	if !l.shouldLog(level) {
		return
	}

	e := l.entry(fields)
	switch level {
	case DEBUG:
		e.Debug(msg)
	case INFO:
		e.Info(msg)
	case WARN:
		e.Warn(msg)
	case ERROR:
		e.Error(msg)
	case FATAL:
		e.Fatal(msg)
	}
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(DEBUG, msg, first(fields))
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(INFO, msg, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(WARN, msg, first(fields))
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(ERROR, msg, first(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...Fields) {
	l.log(FATAL, msg, first(fields))
}

// Writer exposes the underlying output, used to route gin's logs
func (l *Logger) Writer() io.Writer {
	return l.logger.Out
}

// WithFields returns a logger with pre-set fields
func (l *Logger) WithFields(fields Fields) *FieldLogger {
	return &FieldLogger{
		logger: l,
		fields: fields,
	}
}

// FieldLogger is a logger with pre-set fields
type FieldLogger struct {
	logger *Logger
	fields Fields
}

// mergeFields merges pre-set fields with new fields
func (fl *FieldLogger) mergeFields(newFields []Fields) Fields {
	if len(newFields) == 0 {
		return fl.fields
	}
	merged := make(Fields, len(fl.fields)+len(newFields[0]))
	for k, v := range fl.fields {
		merged[k] = v
	}
	for k, v := range newFields[0] {
		merged[k] = v
	}
	return merged
}

// Debug logs a debug message with pre-set fields
func (fl *FieldLogger) Debug(msg string, fields ...Fields) {
	fl.logger.log(DEBUG, msg, fl.mergeFields(fields))
}

// Info logs an info message with pre-set fields
func (fl *FieldLogger) Info(msg string, fields ...Fields) {
	fl.logger.log(INFO, msg, fl.mergeFields(fields))
}

// Warn logs a warning message with pre-set fields
func (fl *FieldLogger) Warn(msg string, fields ...Fields) {
	fl.logger.log(WARN, msg, fl.mergeFields(fields))
}

// Error logs an error message with pre-set fields
func (fl *FieldLogger) Error(msg string, fields ...Fields) {
	fl.logger.log(ERROR, msg, fl.mergeFields(fields))
}

// Fatal logs a fatal message with pre-set fields and exits
func (fl *FieldLogger) Fatal(msg string, fields ...Fields) {
	fl.logger.log(FATAL, msg, fl.mergeFields(fields))
}

// Global logger instance
var globalLogger = NewDefaultLogger()

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// Global logging functions
func Debug(msg string, fields ...Fields) {
	globalLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...Fields) {
	globalLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...Fields) {
	globalLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...Fields) {
	globalLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...Fields) {
	globalLogger.Fatal(msg, fields...)
}
