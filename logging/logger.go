// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer ConclaveLogger with contextual
// helpers (component, run) and domain specific logging helpers for agent
// calls, model calls, tool calls and coordination decisions.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface for Conclave.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// ConclaveLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It should be cheap to copy via With* methods.
// Its Debug/Info/Warn/Error methods take slog style key/value pairs so it
// satisfies Logger.
type ConclaveLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]any
	component string
	runID     string
}

// LoggerConfig configures construction of a ConclaveLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	RunID       string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration writing to stderr.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr, CustomAttrs: map[string]any{}}
}

// NewLogger builds a ConclaveLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *ConclaveLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	attrs := make(map[string]any, len(cfg.CustomAttrs))
	for k, v := range cfg.CustomAttrs {
		attrs[k] = v
	}
	return &ConclaveLogger{logger: slog.New(handler), level: cfg.Level, context: attrs, component: cfg.Component, runID: cfg.RunID}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *ConclaveLogger) clone() *ConclaveLogger {
	nl := *l
	nl.context = make(map[string]any, len(l.context))
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *ConclaveLogger) WithContext(key string, value any) *ConclaveLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (dispatcher, chain, coordinator, ...).
func (l *ConclaveLogger) WithComponent(c string) *ConclaveLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithRun attaches the coordination run identifier.
func (l *ConclaveLogger) WithRun(runID string) *ConclaveLogger {
	nl := l.clone()
	nl.runID = runID
	return nl
}

func (l *ConclaveLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+2)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *ConclaveLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	attrs := l.buildAttrs()
	for len(args) > 0 {
		if len(args) == 1 {
			attrs = append(attrs, slog.Any("!BADKEY", args[0]))
			break
		}
		key, ok := args[0].(string)
		if !ok {
			key = fmt.Sprint(args[0])
		}
		attrs = append(attrs, slog.Any(key, args[1]))
		args = args[2:]
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs at debug level.
func (l *ConclaveLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *ConclaveLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *ConclaveLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *ConclaveLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

func (l *ConclaveLogger) outcome(msg string, success bool, err error, attrs []slog.Attr) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
		msg += ".failed"
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if slogLevel(l.level) > level {
		return
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogAgentCall records one responder call settled by the dispatcher or chain.
func (l *ConclaveLogger) LogAgentCall(agentID string, dur time.Duration, success bool, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("agent_id", agentID), slog.Duration("duration", dur), slog.Bool("success", success))
	l.outcome("agent.call", success, err, attrs)
}

// LogLLMCall records model call latency, token usage and success.
func (l *ConclaveLogger) LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("model", model), slog.Int("token_count", tokens), slog.Duration("duration", dur), slog.Bool("success", success))
	l.outcome("llm.call", success, err, attrs)
}

// LogToolCall records execution details for a tool invocation.
func (l *ConclaveLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	attrs := l.buildAttrs()
	attrs = append(attrs, slog.String("tool_name", tool), slog.Duration("duration", dur), slog.Bool("success", success))
	l.outcome("tool.call", success, err, attrs)
}

// LogDecision records how a coordination round was reduced.
func (l *ConclaveLogger) LogDecision(strategy, path string, consensus bool, okCount, total int) {
	attrs := l.buildAttrs()
	attrs = append(attrs,
		slog.String("strategy", strategy),
		slog.String("resolution_path", path),
		slog.Bool("consensus", consensus),
		slog.Int("ok", okCount),
		slog.Int("total", total),
	)
	l.outcome("coordination.decision", path != "unresolved", nil, attrs)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *ConclaveLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("operation.completed", "operation", op, "duration", time.Since(start)) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// NewSlogLogger creates a new ConclaveLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *ConclaveLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// AgentCall logs a responder call through l, using the domain helper when l
// is a *ConclaveLogger.
func AgentCall(l Logger, agentID string, dur time.Duration, err error) {
	if cl, ok := l.(*ConclaveLogger); ok {
		cl.LogAgentCall(agentID, dur, err == nil, err)
		return
	}
	if err != nil {
		OrNoOp(l).Warn("agent.call.failed", "agent_id", agentID, "duration", dur, "error", err.Error())
		return
	}
	OrNoOp(l).Debug("agent.call", "agent_id", agentID, "duration", dur)
}

// LLMCall logs a model call through l.
func LLMCall(l Logger, model string, tokens int, dur time.Duration, err error) {
	if cl, ok := l.(*ConclaveLogger); ok {
		cl.LogLLMCall(model, tokens, dur, err == nil, err)
		return
	}
	if err != nil {
		OrNoOp(l).Warn("llm.call.failed", "model", model, "duration", dur, "error", err.Error())
		return
	}
	OrNoOp(l).Debug("llm.call", "model", model, "token_count", tokens, "duration", dur)
}

// ToolCall logs a tool execution through l.
func ToolCall(l Logger, tool string, dur time.Duration, err error) {
	if cl, ok := l.(*ConclaveLogger); ok {
		cl.LogToolCall(tool, dur, err == nil, err)
		return
	}
	if err != nil {
		OrNoOp(l).Warn("tool.call.failed", "tool_name", tool, "duration", dur, "error", err.Error())
		return
	}
	OrNoOp(l).Debug("tool.call", "tool_name", tool, "duration", dur)
}

// Decision logs a coordination decision through l.
func Decision(l Logger, strategy, path string, consensus bool, okCount, total int) {
	if cl, ok := l.(*ConclaveLogger); ok {
		cl.LogDecision(strategy, path, consensus, okCount, total)
		return
	}
	OrNoOp(l).Info("coordination.decision",
		"strategy", strategy, "resolution_path", path, "consensus", consensus, "ok", okCount, "total", total)
}

// ForRun scopes l to a coordination run. Plain Loggers are returned as is.
func ForRun(l Logger, runID string) Logger {
	if cl, ok := l.(*ConclaveLogger); ok {
		return cl.WithRun(runID)
	}
	return OrNoOp(l)
}
