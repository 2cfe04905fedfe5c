package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AlarmistLogger implements Logger atop the standard log.Logger, formatting
// each entry as a single line (JSON or text) per Config.Format.
type AlarmistLogger struct {
	config    *Config
	logger    *log.Logger
	formatter Formatter
	mu        sync.Mutex
	traceID   string
}

// New creates an AlarmistLogger instance.
func New(config *Config) (*AlarmistLogger, error) {
	l := &AlarmistLogger{config: config}

	var output io.Writer
	switch config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := openLogFile(config.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	}
	l.logger = log.New(output, "", 0)
	l.formatter = GetFormatter(config.Format, nil)

	return l, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return &AlarmistLogger{
		config:    &Config{Level: FATAL + 1},
		logger:    log.New(io.Discard, "", 0),
		formatter: NewJSONFormatter(false, true),
	}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

func (l *AlarmistLogger) Debug(component, message string, fields ...map[string]interface{}) {
	l.log(DEBUG, component, message, fields...)
}

func (l *AlarmistLogger) Info(component, message string, fields ...map[string]interface{}) {
	l.log(INFO, component, message, fields...)
}

func (l *AlarmistLogger) Warn(component, message string, fields ...map[string]interface{}) {
	l.log(WARN, component, message, fields...)
}

func (l *AlarmistLogger) Error(component, message string, fields ...map[string]interface{}) {
	l.log(ERROR, component, message, fields...)
}

func (l *AlarmistLogger) Fatal(component, message string, fields ...map[string]interface{}) {
	l.log(FATAL, component, message, fields...)
	os.Exit(1)
}

// WithTrace returns a copy of l scoped to the given trace id.
func (l *AlarmistLogger) WithTrace(traceID string) Logger {
	cp := *l
	cp.traceID = traceID
	return &cp
}

func (l *AlarmistLogger) log(level LogLevel, component, message string, fields ...map[string]interface{}) {
	if level < l.config.Level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Component: component,
		Fields:    make(map[string]interface{}),
		TraceID:   l.traceID,
	}
	for _, field := range fields {
		for k, v := range field {
			entry.Fields[k] = v
		}
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"timestamp\":%q,\"level\":%q,\"component\":%q,\"message\":%q,\"error\":\"failed to format log entry\"}",
			entry.Timestamp.Format(time.RFC3339), level.String(), component, message))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Println(string(data))
}
