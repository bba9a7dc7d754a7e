package terminal

import (
	"os/exec"
	"strings"
	"sync/atomic"
)

// Status is the outcome reported to the caller
type Status string

const (
	StatusSuccessful Status = "Successful"
	StatusFailed     Status = "Failed"
)

// CommandRequest is one command submitted to the manager
type CommandRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
	UseSudo        bool   `json:"use_sudo,omitempty"`
	SessionID      string `json:"session,omitempty"`
}

// ExecutionResult is returned for every command, whichever path it took
type ExecutionResult struct {
	WorkingDirectory string `json:"working_directory"`
	Status           Status `json:"status"`
	Output           string `json:"output"`
	Warnings         string `json:"warnings"`

	ExitCode  int                `json:"-"`
	CommandID string             `json:"-"`
	SessionID string             `json:"-"`
	Process   *BackgroundProcess `json:"-"`
	Err       error              `json:"-"`
}

// Succeeded reports whether the status is Successful
func (r ExecutionResult) Succeeded() bool {
	return r.Status == StatusSuccessful
}

func failed(dir, output, warnings string, err error) ExecutionResult {
	return ExecutionResult{
		WorkingDirectory: dir,
		Status:           StatusFailed,
		Output:           output,
		Warnings:         warnings,
		ExitCode:         1,
		Err:              err,
	}
}

// Spawner builds every process the executors start. Tests substitute one
// that counts or refuses spawns.
type Spawner interface {
	Command(name string, args ...string) *exec.Cmd
}

// ExecSpawner is the default Spawner backed by os/exec
type ExecSpawner struct{}

// Command returns exec.Command(name, args...)
func (ExecSpawner) Command(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// CountingSpawner wraps another Spawner and counts spawned processes
type CountingSpawner struct {
	Next  Spawner
	count atomic.Int64
}

// Command counts and delegates
func (c *CountingSpawner) Command(name string, args ...string) *exec.Cmd {
	c.count.Add(1)
	next := c.Next
	if next == nil {
		next = ExecSpawner{}
	}
	return next.Command(name, args...)
}

// Count returns the number of processes built so far
func (c *CountingSpawner) Count() int64 {
	return c.count.Load()
}

// shellEscape quotes s for safe use in generated scripts
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}

	needsEscape := false
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '-' ||
			c == '.' || c == '/' || c == ':') {
			needsEscape = true
			break
		}
	}

	if !needsEscape {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
