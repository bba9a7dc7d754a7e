package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rama-kairi/go-shell/internal/config"
	"github.com/rama-kairi/go-shell/internal/database"
	"github.com/rama-kairi/go-shell/internal/logger"
	"github.com/rama-kairi/go-shell/internal/terminal"
)

// ShellTools provides MCP tools backed by the shell manager
type ShellTools struct {
	manager *terminal.Manager
	config  *config.Config
	logger  *logger.Logger
}

// NewShellTools creates a new shell tools instance
func NewShellTools(manager *terminal.Manager, config *config.Config, logger *logger.Logger) *ShellTools {
	return &ShellTools{
		manager: manager,
		config:  config,
		logger:  logger.WithComponent("tools"),
	}
}

// ExecuteCommandArgs represents arguments for executing a shell command
type ExecuteCommandArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
	UseSudo bool   `json:"use_sudo,omitempty"`
	Session string `json:"session,omitempty"`
}

// ExecuteCommandResult mirrors terminal.ExecutionResult for tool callers
type ExecuteCommandResult struct {
	WorkingDirectory string `json:"working_directory"`
	Status           string `json:"status"`
	Output           string `json:"output"`
	Warnings         string `json:"warnings"`
	CommandID        string `json:"command_id"`
	SessionID        string `json:"session_id"`
	ProcessID        string `json:"process_id,omitempty"`
	PID              int    `json:"pid,omitempty"`
	LogPath          string `json:"log_path,omitempty"`
}

// ListSessionsArgs represents arguments for listing sessions
type ListSessionsArgs struct{}

// SessionInfo describes one shell session
type SessionInfo struct {
	SessionID        string        `json:"session_id"`
	WorkingDirectory string        `json:"working_directory"`
	CreatedAt        string        `json:"created_at"`
	LastUsedAt       string        `json:"last_used_at"`
	Stats            *SessionStats `json:"stats,omitempty"`
}

// SessionStats summarizes the recorded commands of a session
type SessionStats struct {
	TotalCommands      int     `json:"total_commands"`
	SuccessfulCommands int     `json:"successful_commands"`
	FailedCommands     int     `json:"failed_commands"`
	BackgroundCommands int     `json:"background_commands"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
}

// ListSessionsResult represents the result of listing sessions
type ListSessionsResult struct {
	Sessions            []SessionInfo       `json:"sessions"`
	Total               int                 `json:"total"`
	BackgroundProcesses []BackgroundProcess `json:"background_processes"`
}

// SearchHistoryArgs represents arguments for searching command history
type SearchHistoryArgs struct {
	Session   string `json:"session,omitempty"`
	Command   string `json:"command,omitempty"`
	Output    string `json:"output,omitempty"`
	Status    string `json:"status,omitempty"`
	Mode      string `json:"mode,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HistoryEntry is one stored command
type HistoryEntry struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	Command          string `json:"command"`
	Mode             string `json:"mode"`
	Status           string `json:"status"`
	Output           string `json:"output"`
	Warnings         string `json:"warnings,omitempty"`
	ExitCode         int    `json:"exit_code"`
	DurationMs       int64  `json:"duration_ms"`
	WorkingDirectory string `json:"working_directory"`
	Timestamp        string `json:"timestamp"`
}

// SearchHistoryResult represents the result of a history search
type SearchHistoryResult struct {
	Results []HistoryEntry `json:"results"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
}

// CheckBackgroundProcessArgs represents arguments for checking a background launch
type CheckBackgroundProcessArgs struct {
	ProcessID string `json:"process_id"`
}

// BackgroundProcess describes a background launch
type BackgroundProcess struct {
	ProcessID        string `json:"process_id"`
	Command          string `json:"command"`
	PID              string `json:"pid"`
	Status           string `json:"status"`
	LogPath          string `json:"log_path"`
	WorkingDirectory string `json:"working_directory"`
	StartedAt        string `json:"started_at"`
}

// CheckBackgroundProcessResult represents the state of a background launch
type CheckBackgroundProcessResult struct {
	Process BackgroundProcess `json:"process"`
	LogTail string            `json:"log_tail"`
}

// ExecuteCommand runs a command through the shell manager. Failed executions
// are still returned as data so callers see output, warnings and directory.
func (t *ShellTools) ExecuteCommand(ctx context.Context, req *mcp.CallToolRequest, args ExecuteCommandArgs) (*mcp.CallToolResult, ExecuteCommandResult, error) {
	if err := validateSessionID(args.Session); err != nil {
		return createErrorResult(fmt.Sprintf("Invalid session: %v", err)), ExecuteCommandResult{}, nil
	}
	if args.Timeout < 0 {
		return createErrorResult("timeout must not be negative"), ExecuteCommandResult{}, nil
	}

	res := t.manager.Execute(ctx, terminal.CommandRequest{
		Command:        args.Command,
		TimeoutSeconds: args.Timeout,
		UseSudo:        args.UseSudo,
		SessionID:      args.Session,
	})

	result := ExecuteCommandResult{
		WorkingDirectory: res.WorkingDirectory,
		Status:           string(res.Status),
		Output:           res.Output,
		Warnings:         res.Warnings,
		CommandID:        res.CommandID,
		SessionID:        res.SessionID,
	}
	if res.Process != nil {
		result.ProcessID = res.Process.ID
		result.PID = res.Process.PID
		result.LogPath = res.Process.LogPath
	}

	toolResult := createJSONResult(result)
	toolResult.IsError = !res.Succeeded()
	return toolResult, result, nil
}

// ListSessions lists shell sessions with their history stats, plus recent
// background launches including those recorded before a restart
func (t *ShellTools) ListSessions(ctx context.Context, req *mcp.CallToolRequest, args ListSessionsArgs) (*mcp.CallToolResult, ListSessionsResult, error) {
	entries := t.manager.Sessions()
	historyEnabled := t.config.Database.Enable

	result := ListSessionsResult{
		Sessions:            make([]SessionInfo, 0, len(entries)),
		Total:               len(entries),
		BackgroundProcesses: []BackgroundProcess{},
	}
	for _, e := range entries {
		info := SessionInfo{
			SessionID:        e.ID,
			WorkingDirectory: e.Directory,
			CreatedAt:        formatTime(e.CreatedAt),
			LastUsedAt:       formatTime(e.LastUsedAt),
		}
		if historyEnabled {
			if stats, err := t.manager.SessionStats(e.ID); err == nil {
				info.Stats = &SessionStats{
					TotalCommands:      stats.TotalCommands,
					SuccessfulCommands: stats.SuccessfulCommands,
					FailedCommands:     stats.FailedCommands,
					BackgroundCommands: stats.BackgroundCommands,
					AvgDurationMs:      stats.AvgDurationMs,
				}
			}
		}
		result.Sessions = append(result.Sessions, info)
	}

	launches, err := t.manager.Launches(DefaultSearchLimit)
	if err != nil {
		t.logger.Error("Failed to list background launches", err)
		launches = t.manager.BackgroundProcesses()
	}
	for _, p := range launches {
		result.BackgroundProcesses = append(result.BackgroundProcesses, toBackgroundProcess(p))
	}

	return createJSONResult(result), result, nil
}

// SearchHistory searches stored command history
func (t *ShellTools) SearchHistory(ctx context.Context, req *mcp.CallToolRequest, args SearchHistoryArgs) (*mcp.CallToolResult, SearchHistoryResult, error) {
	if err := validateSessionID(args.Session); err != nil {
		return createErrorResult(fmt.Sprintf("Invalid session: %v", err)), SearchHistoryResult{}, nil
	}

	since, err := parseTimeFilter("start_time", args.StartTime)
	if err != nil {
		return createErrorResult(err.Error()), SearchHistoryResult{}, nil
	}
	until, err := parseTimeFilter("end_time", args.EndTime)
	if err != nil {
		return createErrorResult(err.Error()), SearchHistoryResult{}, nil
	}

	limit := clampLimit(args.Limit)
	records, err := t.manager.SearchHistory(database.CommandFilter{
		SessionID: args.Session,
		Command:   args.Command,
		Output:    args.Output,
		Status:    args.Status,
		Mode:      strings.ToLower(args.Mode),
		Since:     since,
		Until:     until,
		Limit:     limit,
	})
	if err != nil {
		t.logger.Error("History search failed", err)
		return createErrorResult(fmt.Sprintf("Failed to search history: %v", err)), SearchHistoryResult{}, nil
	}

	result := SearchHistoryResult{
		Results: make([]HistoryEntry, 0, len(records)),
		Total:   len(records),
		Limit:   limit,
	}
	for _, r := range records {
		result.Results = append(result.Results, HistoryEntry{
			ID:               r.ID,
			SessionID:        r.SessionID,
			Command:          r.Command,
			Mode:             r.Mode,
			Status:           r.Status,
			Output:           r.Output,
			Warnings:         r.Warnings,
			ExitCode:         r.ExitCode,
			DurationMs:       r.Duration,
			WorkingDirectory: r.WorkingDir,
			Timestamp:        formatTime(r.Timestamp),
		})
	}

	return createJSONResult(result), result, nil
}

// CheckBackgroundProcess reports the current status and log tail of a launch
func (t *ShellTools) CheckBackgroundProcess(ctx context.Context, req *mcp.CallToolRequest, args CheckBackgroundProcessArgs) (*mcp.CallToolResult, CheckBackgroundProcessResult, error) {
	id := strings.TrimSpace(args.ProcessID)
	if id == "" {
		return createErrorResult("process_id is required"), CheckBackgroundProcessResult{}, nil
	}

	proc, tail, err := t.manager.InspectProcess(id, DefaultLogTailBytes)
	if err != nil {
		return createErrorResult(err.Error()), CheckBackgroundProcessResult{}, nil
	}

	result := CheckBackgroundProcessResult{
		Process: toBackgroundProcess(proc),
		LogTail: tail,
	}
	return createJSONResult(result), result, nil
}

func toBackgroundProcess(p *terminal.BackgroundProcess) BackgroundProcess {
	return BackgroundProcess{
		ProcessID:        p.ID,
		Command:          p.Command,
		PID:              p.PIDString(),
		Status:           p.Status.String(),
		LogPath:          p.LogPath,
		WorkingDirectory: p.WorkingDir,
		StartedAt:        formatTime(p.StartedAt),
	}
}
