package logger

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

type traceIDKey struct{}

// WithTraceID adds a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID extracts a trace id from ctx, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok {
		return traceID
	}
	return ""
}

// LogError logs err at Error severity with a captured stack trace attached.
func LogError(l Logger, component string, err error, fields ...map[string]interface{}) {
	if err == nil {
		return
	}
	merged := make(map[string]interface{})
	for _, field := range fields {
		for k, v := range field {
			merged[k] = v
		}
	}
	merged["error"] = err.Error()
	merged["stack_trace"] = getStackTrace()
	l.Error(component, err.Error(), merged)
}

func getStackTrace() string {
	var stack [4096]byte
	n := runtime.Stack(stack[:], false)
	lines := strings.Split(string(stack[:n]), "\n")
	if len(lines) > 4 {
		return strings.Join(lines[4:], "\n")
	}
	return ""
}

// ComponentLogger binds a fixed component name to a backing Logger, so
// call sites stop repeating it.
type ComponentLogger struct {
	component string
	logger    Logger
}

// NewComponentLogger creates a ComponentLogger scoped to component.
func NewComponentLogger(logger Logger, component string) *ComponentLogger {
	return &ComponentLogger{component: component, logger: logger}
}

// WithContext returns a ComponentLogger carrying ctx's trace id.
func (c *ComponentLogger) WithContext(ctx context.Context) *ComponentLogger {
	return &ComponentLogger{
		component: c.component,
		logger:    c.logger.WithTrace(GetTraceID(ctx)),
	}
}

func (c *ComponentLogger) Debug(message string, fields ...map[string]interface{}) {
	c.logger.Debug(c.component, message, fields...)
}

func (c *ComponentLogger) Info(message string, fields ...map[string]interface{}) {
	c.logger.Info(c.component, message, fields...)
}

func (c *ComponentLogger) Warn(message string, fields ...map[string]interface{}) {
	c.logger.Warn(c.component, message, fields...)
}

func (c *ComponentLogger) Error(message string, fields ...map[string]interface{}) {
	c.logger.Error(c.component, message, fields...)
}

func (c *ComponentLogger) Fatal(message string, fields ...map[string]interface{}) {
	c.logger.Fatal(c.component, message, fields...)
}

func (c *ComponentLogger) LogError(err error, fields ...map[string]interface{}) {
	LogError(c.logger, c.component, err, fields...)
}

// LogPerformance logs an operation's duration at Info severity.
func (c *ComponentLogger) LogPerformance(operation string, duration time.Duration, metadata interface{}) {
	c.logger.Info(c.component, fmt.Sprintf("performance: %s took %v", operation, duration), map[string]interface{}{
		"operation": operation,
		"duration_ms": duration.Milliseconds(),
		"metadata":  metadata,
	})
}
