package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rama-kairi/go-shell/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
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
	default:
		return "UNKNOWN"
	}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	CommandID string                 `json:"command_id,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// sink is shared by a logger and every logger derived from it so writes
// from different components never interleave
type sink struct {
	mu         sync.Mutex
	out        io.Writer
	fileHandle *os.File
}

func (s *sink) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		_, _ = s.out.Write(p)
	}
}

// Logger provides structured logging capabilities
type Logger struct {
	level      LogLevel
	format     string
	sink       *sink
	mu         sync.RWMutex
	component  string
	baseFields map[string]interface{}
}

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LoggingConfig, component string) (*Logger, error) {
	var output io.Writer
	var fileHandle *os.File

	switch cfg.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "file":
		file, err := os.OpenFile("go-shell.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		fileHandle = file
	default:
		// Treat as file path
		if strings.HasPrefix(cfg.Output, "/") || strings.HasSuffix(cfg.Output, ".log") {
			file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
			}
			output = file
			fileHandle = file
		} else {
			output = os.Stderr
		}
	}

	l := NewWithWriter(output, cfg.Level, cfg.Format, component)
	l.sink.fileHandle = fileHandle
	return l, nil
}

// NewWithWriter creates a logger that writes to w
func NewWithWriter(w io.Writer, level, format, component string) *Logger {
	return &Logger{
		level:      parseLogLevel(level),
		format:     strings.ToLower(format),
		sink:       &sink{out: w},
		component:  component,
		baseFields: make(map[string]interface{}),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWithWriter(io.Discard, "error", "json", "")
}

// Close closes the log file if the logger opened one
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.fileHandle != nil {
		err := l.sink.fileHandle.Close()
		l.sink.fileHandle = nil
		l.sink.out = nil
		return err
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLogLevel(level)
}

// WithFields returns a new logger instance with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		level:      l.level,
		format:     l.format,
		sink:       l.sink,
		component:  l.component,
		baseFields: make(map[string]interface{}, len(l.baseFields)+len(fields)),
	}

	for k, v := range l.baseFields {
		newLogger.baseFields[k] = v
	}
	for k, v := range fields {
		newLogger.baseFields[k] = v
	}

	return newLogger
}

// WithSession returns a logger with session ID
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.WithFields(map[string]interface{}{
		"session_id": sessionID,
	})
}

// WithComponent returns a logger with component name
func (l *Logger) WithComponent(component string) *Logger {
	newLogger := l.WithFields(nil)
	newLogger.component = component
	return newLogger
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, "", fields...)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, "", fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, "", fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, err error, fields ...map[string]interface{}) {
	errorStr := ""
	if err != nil {
		errorStr = err.Error()
	}
	l.log(ERROR, message, errorStr, fields...)
}

// LogExecution logs the outcome of a single shell command
func (l *Logger) LogExecution(sessionID, commandID, command, mode, status string, duration time.Duration) {
	fields := map[string]interface{}{
		"session_id": sessionID,
		"command_id": commandID,
		"command":    command,
		"duration":   duration.String(),
		"mode":       mode,
		"status":     status,
	}

	if status == "Successful" {
		l.Info("Command finished", fields)
	} else {
		l.Warn("Command failed", fields)
	}
}

// LogSecurityEvent logs security-related events
func (l *Logger) LogSecurityEvent(event, details string, severity string, fields ...map[string]interface{}) {
	securityFields := map[string]interface{}{
		"security_event": event,
		"details":        details,
		"severity":       severity,
	}

	if len(fields) > 0 {
		for k, v := range fields[0] {
			securityFields[k] = v
		}
	}

	switch severity {
	case "critical", "high":
		l.Error(fmt.Sprintf("Security event: %s", event), nil, securityFields)
	case "medium":
		l.Warn(fmt.Sprintf("Security event: %s", event), securityFields)
	default:
		l.Info(fmt.Sprintf("Security event: %s", event), securityFields)
	}
}

func (l *Logger) log(level LogLevel, message, errorStr string, fields ...map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = file[strings.LastIndex(file, "/")+1:]
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   message,
		Component: l.component,
		Error:     errorStr,
		File:      file,
		Line:      line,
		Fields:    make(map[string]interface{}),
	}

	entry.apply(l.baseFields)
	if len(fields) > 0 {
		entry.apply(fields[0])
	}

	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	var output string
	if l.format == "json" {
		data, _ := json.Marshal(entry)
		output = string(data) + "\n"
	} else {
		output = l.formatTextEntry(entry)
	}

	l.sink.write([]byte(output))
}

// apply lifts well-known keys into their dedicated columns
func (e *LogEntry) apply(fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "session_id":
			e.SessionID = fmt.Sprintf("%v", v)
		case "command_id":
			e.CommandID = fmt.Sprintf("%v", v)
		case "command":
			e.Command = fmt.Sprintf("%v", v)
		case "duration":
			e.Duration = fmt.Sprintf("%v", v)
		default:
			e.Fields[k] = v
		}
	}
}

// formatTextEntry formats a log entry as human-readable text
func (l *Logger) formatTextEntry(entry LogEntry) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", entry.Timestamp[:19], entry.Level))

	if entry.Component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", entry.Component))
	}

	if entry.SessionID != "" {
		parts = append(parts, fmt.Sprintf("[session:%s]", shortID(entry.SessionID)))
	}

	parts = append(parts, entry.Message)

	if entry.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%s", entry.Error))
	}
	if entry.Command != "" {
		parts = append(parts, fmt.Sprintf("cmd=%q", entry.Command))
	}
	if entry.Duration != "" {
		parts = append(parts, fmt.Sprintf("duration=%s", entry.Duration))
	}

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
	}

	if l.level == DEBUG && entry.File != "" {
		parts = append(parts, fmt.Sprintf("(%s:%d)", entry.File, entry.Line))
	}

	return strings.Join(parts, " ") + "\n"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}
