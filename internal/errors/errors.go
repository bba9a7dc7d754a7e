// Package errors provides the error taxonomy for the go-shell command pipeline.
// Every failure a command can hit maps onto one of a few kinds, and the session
// manager turns all of them into a Failed execution result.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error categories
type ErrorCode string

const (
	// Rejections raised before anything is spawned
	ErrCodeValidation       ErrorCode = "VALIDATION_REJECTED"
	ErrCodeCommandBlocked   ErrorCode = "COMMAND_BLOCKED"
	ErrCodeServerForeground ErrorCode = "SERVER_COMMAND_FOREGROUND"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// Execution failures
	ErrCodeCommandTimeout ErrorCode = "COMMAND_TIMEOUT"
	ErrCodeLaunchFailed   ErrorCode = "LAUNCH_FAILED"
	ErrCodeEnvironment    ErrorCode = "ENVIRONMENT_FAILURE"

	// Lookups
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeProcessNotFound ErrorCode = "PROCESS_NOT_FOUND"

	// Infrastructure
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// Kind groups error codes by how the pipeline reacts to them
type Kind string

const (
	KindValidationRejection Kind = "ValidationRejection"
	KindTimeout             Kind = "TimeoutFailure"
	KindLaunch              Kind = "LaunchFailure"
	KindEnvironment         Kind = "EnvironmentFailure"
	KindInternal            Kind = "InternalFault"
)

// ShellError is the standardized error type for the application
type ShellError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Cause      error          `json:"-"`
	Retryable  bool           `json:"retryable"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *ShellError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause
func (e *ShellError) Unwrap() error {
	return e.Cause
}

// Kind reports which failure class the error belongs to
func (e *ShellError) Kind() Kind {
	switch e.Code {
	case ErrCodeValidation, ErrCodeCommandBlocked, ErrCodeServerForeground, ErrCodeInvalidInput:
		return KindValidationRejection
	case ErrCodeCommandTimeout:
		return KindTimeout
	case ErrCodeLaunchFailed:
		return KindLaunch
	case ErrCodeEnvironment:
		return KindEnvironment
	default:
		return KindInternal
	}
}

// WithContext adds context information to the error
func (e *ShellError) WithContext(key string, value any) *ShellError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for the user
func (e *ShellError) WithSuggestion(suggestion string) *ShellError {
	e.Suggestion = suggestion
	return e
}

// WithDetails adds detailed information
func (e *ShellError) WithDetails(details string) *ShellError {
	e.Details = details
	return e
}

// New creates a new ShellError
func New(code ErrorCode, message string) *ShellError {
	return &ShellError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(cause error, code ErrorCode, message string) *ShellError {
	return &ShellError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is checks if the error matches the given error code
func Is(err error, code ErrorCode) bool {
	var shellErr *ShellError
	if errors.As(err, &shellErr) {
		return shellErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var shellErr *ShellError
	if errors.As(err, &shellErr) {
		return shellErr.Code
	}
	return ErrCodeInternal
}

// KindOf extracts the failure class from an error; unknown errors are internal faults
func KindOf(err error) Kind {
	var shellErr *ShellError
	if errors.As(err, &shellErr) {
		return shellErr.Kind()
	}
	return KindInternal
}

// --- Convenience constructors for common errors ---

// EmptyCommand creates the rejection for a blank command
func EmptyCommand() *ShellError {
	return New(ErrCodeValidation, "command cannot be empty").
		WithSuggestion("Provide a shell command to execute")
}

// CommandTooLong creates the rejection for an oversized command
func CommandTooLong(length, max int) *ShellError {
	return New(ErrCodeValidation, fmt.Sprintf("command is too long: %d characters (max %d)", length, max)).
		WithContext("length", length).
		WithContext("max", max)
}

// CommandBlocked creates a blocked command error
func CommandBlocked(command, reason string) *ShellError {
	return New(ErrCodeCommandBlocked, fmt.Sprintf("command blocked for security: %s", reason)).
		WithContext("command", command).
		WithSuggestion("Use a safer alternative command")
}

// ServerInForeground creates the rejection for a server started without '&'
func ServerInForeground(command string) *ShellError {
	return New(ErrCodeServerForeground, "server commands must run in the background").
		WithContext("command", command).
		WithSuggestion("Append '&' to the command")
}

// CommandTimeout creates a command timeout error
func CommandTimeout(command string, timeout int) *ShellError {
	return New(ErrCodeCommandTimeout, fmt.Sprintf("command timed out after %d seconds", timeout)).
		WithContext("command", command).
		WithContext("timeout_seconds", timeout).
		WithSuggestion("Run long-lived commands in the background with '&'")
}

// LaunchFailed creates a background launch failure error
func LaunchFailed(command, logPath string) *ShellError {
	return New(ErrCodeLaunchFailed, "background process exited immediately").
		WithContext("command", command).
		WithContext("log_path", logPath).
		WithSuggestion("Check the log file for details")
}

// Environment creates a filesystem or OS level failure
func Environment(cause error, path string) *ShellError {
	return Wrap(cause, ErrCodeEnvironment, "environment operation failed").
		WithContext("path", path).
		WithSuggestion("Check that the path exists and is accessible")
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *ShellError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID)).
		WithContext("session_id", sessionID).
		WithSuggestion("Use list_shell_sessions to see known sessions")
}

// ProcessNotFound creates a process not found error
func ProcessNotFound(processID string) *ShellError {
	return New(ErrCodeProcessNotFound, fmt.Sprintf("background process not found: %s", processID)).
		WithContext("process_id", processID).
		WithSuggestion("Start the process with a trailing '&' to track it")
}

// InvalidInput creates an invalid input error
func InvalidInput(field, reason string) *ShellError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid input for %s: %s", field, reason)).
		WithContext("field", field)
}

// DatabaseError creates a database error
func DatabaseError(cause error, operation string) *ShellError {
	err := Wrap(cause, ErrCodeDatabaseError, fmt.Sprintf("database operation failed: %s", operation)).
		WithContext("operation", operation)
	err.Retryable = true
	return err
}

// InternalError creates an internal error
func InternalError(cause error, details string) *ShellError {
	return Wrap(cause, ErrCodeInternal, "internal error occurred").
		WithDetails(details)
}
