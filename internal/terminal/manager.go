package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rama-kairi/go-shell/internal/classifier"
	"github.com/rama-kairi/go-shell/internal/config"
	"github.com/rama-kairi/go-shell/internal/database"
	apperrors "github.com/rama-kairi/go-shell/internal/errors"
	"github.com/rama-kairi/go-shell/internal/logger"
	"github.com/rama-kairi/go-shell/internal/session"
	"github.com/rama-kairi/go-shell/internal/streaming"
)

// Execution modes recorded in history
const (
	ModeForeground = "foreground"
	ModeBackground = "background"
	ModeRejected   = "rejected"
)

// HistoryRecorder persists executed commands and background launches.
// *database.DB implements it.
type HistoryRecorder interface {
	StoreCommand(rec *database.CommandRecord) error
	SearchCommands(filter database.CommandFilter) ([]*database.CommandRecord, error)
	StoreLaunch(rec *database.LaunchRecord) error
	UpdateLaunchStatus(id, status string) error
	GetLaunch(id string) (*database.LaunchRecord, error)
	ListLaunches(sessionID string, limit int) ([]*database.LaunchRecord, error)
	GetSessionStats(sessionID string) (*database.SessionStats, error)
}

// ManagerOptions carries the optional collaborators of a Manager
type ManagerOptions struct {
	Spawner    Spawner
	Classifier *classifier.Classifier
	History    HistoryRecorder
	TempDir    string
}

// Manager is the single entry point for command execution. It classifies
// each command, routes it to the foreground or background executor, keeps
// per-session working directories and publishes terminal events.
type Manager struct {
	config     *config.Config
	logger     *logger.Logger
	bus        *streaming.EventBus
	history    HistoryRecorder
	classifier *classifier.Classifier
	sessions   *session.DirectoryState
	foreground *ForegroundExecutor
	background *BackgroundLauncher
}

// NewManager wires a manager from configuration. bus and opts.History may be nil.
func NewManager(cfg *config.Config, log *logger.Logger, bus *streaming.EventBus, opts ManagerOptions) (*Manager, error) {
	if log == nil {
		log = logger.Nop()
	}

	if err := os.MkdirAll(cfg.Shell.WorkspaceDir, 0o755); err != nil {
		return nil, apperrors.Environment(err, cfg.Shell.WorkspaceDir)
	}

	cls := opts.Classifier
	if cls == nil {
		var err error
		cls, err = classifier.New(
			append(classifier.DefaultDangerousRules(),
				classifier.RulesFromPatterns(cfg.Security.ExtraDangerousPatterns, "configured dangerous pattern")...),
			append(classifier.DefaultServerRules(),
				classifier.RulesFromPatterns(cfg.Security.ExtraServerPatterns, "configured server pattern")...),
		)
		if err != nil {
			return nil, apperrors.InvalidInput("security patterns", err.Error())
		}
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = ExecSpawner{}
	}

	m := &Manager{
		config:     cfg,
		logger:     log.WithComponent("manager"),
		bus:        bus,
		history:    opts.History,
		classifier: cls,
		sessions:   session.NewDirectoryState(cfg.Shell.WorkspaceDir, cfg.Shell.MaxSessions),
	}

	m.foreground = NewForegroundExecutor(ForegroundOptions{
		Shell:        cfg.Shell.Shell,
		SudoPassword: cfg.Shell.SudoPassword,
		WorkspaceDir: cfg.Shell.WorkspaceDir,
		TempDir:      opts.TempDir,
	}, cls, spawner, log)

	m.background = NewBackgroundLauncher(BackgroundOptions{
		Shell:           cfg.Shell.Shell,
		LogsDir:         cfg.Shell.LogsDir,
		TempDir:         opts.TempDir,
		GracePeriod:     cfg.Background.GracePeriod,
		WrapperDelay:    cfg.Background.WrapperDelay,
		CleanupDelay:    cfg.Background.CleanupDelay,
		LogExcerptLimit: cfg.Background.LogExcerptLimit,
	}, spawner, log)

	return m, nil
}

// Execute runs one command in its session and always returns a result.
// Rejections, timeouts, launch failures and panics all come back as Failed.
func (m *Manager) Execute(ctx context.Context, req CommandRequest) (res ExecutionResult) {
	start := time.Now()
	commandID := uuid.NewString()
	sessionID := session.Resolve(req.SessionID, "")
	command := strings.TrimSpace(req.Command)
	mode := ModeRejected

	cwd := m.sessions.Get(sessionID)
	log := m.logger.WithSession(sessionID)

	m.publish(streaming.CommandEvent(sessionID, commandID, command, cwd, streaming.SourceAgent))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			log.Error("Recovered from panic during command execution", err, map[string]interface{}{
				"command":    command,
				"command_id": commandID,
				"stack":      string(debug.Stack()),
			})
			res = failed(cwd, fmt.Sprintf("Shell tool error: %v", r), "", apperrors.InternalError(err, command))
		}

		res.CommandID = commandID
		res.SessionID = sessionID
		if res.WorkingDirectory == "" {
			res.WorkingDirectory = cwd
		}

		m.publish(streaming.OutputEvent(sessionID, commandID, res.Output, res.WorkingDirectory, streaming.SourceAgent))
		m.record(sessionID, commandID, command, mode, start, res)
		log.LogExecution(sessionID, commandID, command, mode, string(res.Status), time.Since(start))
	}()

	if command == "" {
		err := apperrors.EmptyCommand()
		return failed(cwd, "Shell tool error: "+err.Message, "", err)
	}
	if limit := m.config.Shell.MaxCommandLength; limit > 0 && len(command) > limit {
		err := apperrors.CommandTooLong(len(command), limit)
		return failed(cwd, "Shell tool error: "+err.Message, "", err)
	}

	if dangerous, reason := m.classifier.IsDangerous(command); dangerous {
		log.LogSecurityEvent("dangerous_command_blocked", reason, "high", map[string]interface{}{
			"command":    command,
			"command_id": commandID,
		})
		return failed(cwd,
			fmt.Sprintf("THREAT WARNING: Dangerous command detected - '%s'. Command contains potentially destructive operations that could affect OS files.", command),
			"", apperrors.CommandBlocked(command, reason))
	}

	if server, _ := m.classifier.IsServerCommand(command); server {
		return failed(cwd, serverCommandMessage(command), serverCommandWarning, apperrors.ServerInForeground(command))
	}

	if classifier.HasBackgroundMarker(command) {
		mode = ModeBackground
		return m.background.Launch(ctx, classifier.StripBackgroundMarker(command), cwd)
	}

	mode = ModeForeground
	res = m.foreground.Run(ctx, ForegroundRequest{
		Command:        command,
		TimeoutSeconds: m.timeout(req.TimeoutSeconds),
		UseSudo:        req.UseSudo,
		Cwd:            cwd,
	})

	if res.WorkingDirectory != "" && res.WorkingDirectory != cwd && isDirectory(res.WorkingDirectory) {
		m.sessions.Set(sessionID, res.WorkingDirectory)
		log.Debug("Session directory changed", map[string]interface{}{
			"from": cwd,
			"to":   res.WorkingDirectory,
		})
	}
	return res
}

// timeout applies the configured default and upper bound
func (m *Manager) timeout(requested int) int {
	timeout := requested
	if timeout <= 0 {
		timeout = m.config.Shell.DefaultTimeout
	}
	if limit := m.config.Shell.MaxTimeout; limit > 0 && timeout > limit {
		timeout = limit
	}
	return timeout
}

func (m *Manager) publish(e streaming.Event) {
	if m.bus == nil {
		return
	}
	if !m.bus.Publish(e) {
		m.logger.Debug("Event bus closed, dropping event", map[string]interface{}{
			"type":       string(e.Type),
			"command_id": e.CommandID,
		})
	}
}

// record stores the command and any launch it produced. Storage errors are
// logged and never change the result.
func (m *Manager) record(sessionID, commandID, command, mode string, start time.Time, res ExecutionResult) {
	if m.history == nil {
		return
	}

	err := m.history.StoreCommand(&database.CommandRecord{
		ID:         commandID,
		SessionID:  sessionID,
		Command:    command,
		Mode:       mode,
		Status:     string(res.Status),
		Output:     res.Output,
		Warnings:   res.Warnings,
		ExitCode:   res.ExitCode,
		Duration:   time.Since(start).Milliseconds(),
		WorkingDir: res.WorkingDirectory,
		Timestamp:  start,
	})
	if err != nil {
		m.logger.Error("Failed to store command history", apperrors.DatabaseError(err, "store command"), map[string]interface{}{
			"command_id": commandID,
		})
	}

	if proc := res.Process; proc != nil {
		err := m.history.StoreLaunch(&database.LaunchRecord{
			ID:         proc.ID,
			CommandID:  commandID,
			SessionID:  sessionID,
			Command:    proc.Command,
			PID:        proc.PID,
			LogPath:    proc.LogPath,
			Status:     proc.Status.String(),
			WorkingDir: proc.WorkingDir,
			StartedAt:  proc.StartedAt,
			UpdatedAt:  time.Now(),
		})
		if err != nil {
			m.logger.Error("Failed to store background launch", apperrors.DatabaseError(err, "store launch"), map[string]interface{}{
				"process_id": proc.ID,
			})
		}
	}
}

// Sessions lists known sessions, most recently used first
func (m *Manager) Sessions() []session.Entry {
	return m.sessions.Sessions()
}

// SessionDirectory returns the current directory of an existing session
func (m *Manager) SessionDirectory(sessionID string) (string, error) {
	dir, ok := m.sessions.Lookup(sessionID)
	if !ok {
		return "", apperrors.SessionNotFound(sessionID)
	}
	return dir, nil
}

// SearchHistory queries stored command history
func (m *Manager) SearchHistory(filter database.CommandFilter) ([]*database.CommandRecord, error) {
	if m.history == nil {
		return nil, apperrors.New(apperrors.ErrCodeDatabaseError, "command history is disabled").
			WithSuggestion("Enable the database in the configuration")
	}

	records, err := m.history.SearchCommands(filter)
	if err != nil {
		return nil, apperrors.DatabaseError(err, "search commands")
	}
	return records, nil
}

// InspectProcess refreshes a background launch and returns it with up to
// tailBytes from the end of its log. Launches recorded by an earlier server
// process are read back from history.
func (m *Manager) InspectProcess(id string, tailBytes int) (*BackgroundProcess, string, error) {
	if tailBytes <= 0 {
		tailBytes = m.config.Background.LogExcerptLimit
	}

	proc, err := m.background.Inspect(id)
	if apperrors.Is(err, apperrors.ErrCodeProcessNotFound) && m.history != nil {
		proc, err = m.storedLaunch(id)
	}
	if err != nil {
		return nil, "", err
	}

	if m.history != nil {
		if err := m.history.UpdateLaunchStatus(proc.ID, proc.Status.String()); err != nil {
			m.logger.Warn("Failed to update launch status", map[string]interface{}{
				"process_id": proc.ID,
				"error":      err.Error(),
			})
		}
	}

	tail, err := readTail(proc.LogPath, tailBytes)
	if err != nil {
		return proc, "", err
	}
	return proc, tail, nil
}

func (m *Manager) storedLaunch(id string) (*BackgroundProcess, error) {
	rec, err := m.history.GetLaunch(id)
	if err != nil {
		if errors.Is(err, database.ErrLaunchNotFound) {
			return nil, apperrors.ProcessNotFound(id)
		}
		return nil, apperrors.DatabaseError(err, "get launch")
	}
	return m.background.Refresh(launchFromRecord(rec)), nil
}

// Launches lists background launches newest first. With history enabled
// this includes launches recorded by earlier server processes.
func (m *Manager) Launches(limit int) ([]*BackgroundProcess, error) {
	if m.history == nil {
		list := m.background.List()
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
		return list, nil
	}

	records, err := m.history.ListLaunches("", limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err, "list launches")
	}

	launches := make([]*BackgroundProcess, 0, len(records))
	for _, rec := range records {
		if proc, err := m.background.Inspect(rec.ID); err == nil {
			launches = append(launches, proc)
			continue
		}
		launches = append(launches, m.background.Refresh(launchFromRecord(rec)))
	}
	return launches, nil
}

// SessionStats summarizes the stored history of a session
func (m *Manager) SessionStats(sessionID string) (*database.SessionStats, error) {
	if m.history == nil {
		return nil, apperrors.New(apperrors.ErrCodeDatabaseError, "command history is disabled").
			WithSuggestion("Enable the database in the configuration")
	}

	stats, err := m.history.GetSessionStats(sessionID)
	if err != nil {
		return nil, apperrors.DatabaseError(err, "session stats")
	}
	return stats, nil
}

func launchFromRecord(rec *database.LaunchRecord) *BackgroundProcess {
	return &BackgroundProcess{
		ID:         rec.ID,
		Command:    rec.Command,
		PID:        rec.PID,
		LogPath:    rec.LogPath,
		WorkingDir: rec.WorkingDir,
		Status:     ParseProcessStatus(rec.Status),
		StartedAt:  rec.StartedAt,
	}
}

// BackgroundProcesses lists launches started by this manager, newest first
func (m *Manager) BackgroundProcesses() []*BackgroundProcess {
	return m.background.List()
}

// Shutdown releases pending background cleanup work. The event bus and the
// history store belong to the caller.
func (m *Manager) Shutdown() {
	m.background.Shutdown()
	m.logger.Info("Shell manager stopped")
}
