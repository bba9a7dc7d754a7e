package terminal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/rama-kairi/go-shell/internal/errors"
	"github.com/rama-kairi/go-shell/internal/logger"
)

// ProcessStatus is the state recorded in a launch's status file
type ProcessStatus int

const (
	ProcessUnknown ProcessStatus = iota
	ProcessStarting
	ProcessRunning
	ProcessCompleted
	ProcessFailed
)

// String returns the status file spelling
func (s ProcessStatus) String() string {
	switch s {
	case ProcessStarting:
		return "STARTING"
	case ProcessRunning:
		return "RUNNING"
	case ProcessCompleted:
		return "COMPLETED"
	case ProcessFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets the status render as its name in JSON
func (s ProcessStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseProcessStatus reads a status file value. Anything unrecognised is
// ProcessUnknown.
func ParseProcessStatus(s string) ProcessStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STARTING":
		return ProcessStarting
	case "RUNNING":
		return ProcessRunning
	case "COMPLETED":
		return ProcessCompleted
	case "FAILED":
		return ProcessFailed
	default:
		return ProcessUnknown
	}
}

// BackgroundProcess describes one detached launch
type BackgroundProcess struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	PID        int           `json:"pid"`
	LogPath    string        `json:"log_path"`
	WorkingDir string        `json:"working_dir"`
	Status     ProcessStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`

	tempDir string
}

// PIDString renders the pid, or "unknown" when the wrapper never recorded one
func (p *BackgroundProcess) PIDString() string {
	if p.PID <= 0 {
		return "unknown"
	}
	return strconv.Itoa(p.PID)
}

// BackgroundOptions configures a BackgroundLauncher
type BackgroundOptions struct {
	Shell           string
	LogsDir         string
	TempDir         string
	GracePeriod     time.Duration
	WrapperDelay    time.Duration
	CleanupDelay    time.Duration
	LogExcerptLimit int
}

// BackgroundLauncher starts commands fully detached and reports whether
// they survived a short grace period
type BackgroundLauncher struct {
	opts    BackgroundOptions
	spawner Spawner
	logger  *logger.Logger

	mu        sync.Mutex
	processes map[string]*BackgroundProcess
	timers    map[string]*time.Timer
}

// NewBackgroundLauncher creates a launcher
func NewBackgroundLauncher(opts BackgroundOptions, spawner Spawner, log *logger.Logger) *BackgroundLauncher {
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 3 * time.Second
	}
	if opts.WrapperDelay <= 0 {
		opts.WrapperDelay = 2 * time.Second
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = 30 * time.Second
	}
	if opts.LogExcerptLimit <= 0 {
		opts.LogExcerptLimit = 500
	}
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if log == nil {
		log = logger.Nop()
	}

	return &BackgroundLauncher{
		opts:      opts,
		spawner:   spawner,
		logger:    log.WithComponent("background"),
		processes: make(map[string]*BackgroundProcess),
		timers:    make(map[string]*time.Timer),
	}
}

// Launch starts command in cwd and returns after the grace period. The
// command keeps running after Launch returns.
func (l *BackgroundLauncher) Launch(ctx context.Context, command, cwd string) ExecutionResult {
	command = strings.TrimSpace(command)

	tempDir, err := os.MkdirTemp(l.opts.TempDir, "bg_process_")
	if err != nil {
		return failed(cwd, fmt.Sprintf("Background process execution error: %v", err), "", apperrors.Environment(err, l.opts.TempDir))
	}

	if err := os.MkdirAll(l.opts.LogsDir, 0o755); err != nil {
		os.RemoveAll(tempDir)
		return failed(cwd, fmt.Sprintf("Background process execution error: %v", err), "", apperrors.Environment(err, l.opts.LogsDir))
	}

	id := uuid.NewString()
	proc := &BackgroundProcess{
		ID:         id,
		Command:    command,
		LogPath:    filepath.Join(l.opts.LogsDir, fmt.Sprintf("server_%d_%s.log", time.Now().Unix(), id[:8])),
		WorkingDir: cwd,
		Status:     ProcessStarting,
		StartedAt:  time.Now(),
		tempDir:    tempDir,
	}

	wrapperPath, err := l.writeScripts(proc)
	if err != nil {
		os.RemoveAll(tempDir)
		return failed(cwd, fmt.Sprintf("Background process execution error: %v", err), "", apperrors.Environment(err, tempDir))
	}

	cmd := l.spawner.Command(l.opts.Shell, wrapperPath)
	cmd.SysProcAttr = newSession()
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tempDir)
		return failed(cwd, fmt.Sprintf("Background process execution error: %v", err), "", apperrors.Environment(err, wrapperPath))
	}
	go func() {
		// reap the wrapper; its exit status is read from the status file
		_ = cmd.Wait()
	}()

	l.track(proc)

	timer := time.NewTimer(l.opts.GracePeriod)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	status := readStatus(filepath.Join(tempDir, "status"))
	pid := readPID(filepath.Join(tempDir, "pid"))

	started := status == ProcessStarting || status == ProcessRunning || status == ProcessCompleted ||
		processAlive(pid) || hasLiveChild(l.spawner, pid)

	if !started {
		status = ProcessFailed
	} else if status == ProcessUnknown || status == ProcessFailed {
		status = ProcessRunning
	}
	l.setStatus(id, status, pid)

	fields := map[string]interface{}{
		"process_id": id,
		"command":    command,
		"pid":        pid,
		"log_path":   proc.LogPath,
		"status":     status.String(),
	}

	snapshot := l.snapshot(id)

	if !started {
		l.logger.Warn("Background process exited immediately", fields)

		output := "Background process started but exited immediately"
		if excerpt := readExcerpt(proc.LogPath, l.opts.LogExcerptLimit); excerpt != "" {
			output += "\nLog output: " + excerpt
		}
		res := failed(cwd, output, "Check the log file for more details: "+proc.LogPath, apperrors.LaunchFailed(command, proc.LogPath))
		res.Process = snapshot
		return res
	}

	l.logger.Info("Background process started", fields)

	output := "Background process started successfully with PID: " + snapshot.PIDString()
	return ExecutionResult{
		WorkingDirectory: cwd,
		Status:           StatusSuccessful,
		Output:           output,
		Warnings:         output + ". You can access logs at: " + proc.LogPath,
		Process:          snapshot,
	}
}

// writeScripts generates run.sh and wrapper.sh and returns the wrapper path
func (l *BackgroundLauncher) writeScripts(proc *BackgroundProcess) (string, error) {
	statusFile := shellEscape(filepath.Join(proc.tempDir, "status"))
	pidFile := shellEscape(filepath.Join(proc.tempDir, "pid"))
	runPath := filepath.Join(proc.tempDir, "run.sh")
	wrapperPath := filepath.Join(proc.tempDir, "wrapper.sh")

	run := fmt.Sprintf(`#!%[1]s
exec > %[2]s 2>&1 < /dev/null
finish() {
  if [ $? -eq 0 ]; then
    echo COMPLETED > %[4]s 2>/dev/null
  else
    echo FAILED > %[4]s 2>/dev/null
  fi
}
trap finish EXIT
cd %[3]s || exit 1
echo RUNNING > %[4]s 2>/dev/null
%[5]s
`, l.opts.Shell, shellEscape(proc.LogPath), shellEscape(proc.WorkingDir), statusFile, proc.Command)

	wrapper := fmt.Sprintf(`#!%[1]s
echo STARTING > %[2]s
if command -v setsid > /dev/null 2>&1; then
  setsid %[1]s %[3]s < /dev/null > /dev/null 2>&1 &
else
  %[1]s %[3]s < /dev/null > /dev/null 2>&1 &
fi
echo $! > %[4]s
sleep %[5]s
if kill -0 "$(cat %[4]s)" 2>/dev/null; then
  exit 0
fi
case "$(cat %[2]s 2>/dev/null)" in
  RUNNING|COMPLETED) exit 0 ;;
esac
echo FAILED > %[2]s
exit 1
`, l.opts.Shell, statusFile, shellEscape(runPath), pidFile, strconv.FormatFloat(l.opts.WrapperDelay.Seconds(), 'f', -1, 64))

	if err := os.WriteFile(runPath, []byte(run), 0o700); err != nil {
		return "", fmt.Errorf("failed to write run script: %w", err)
	}
	if err := os.WriteFile(wrapperPath, []byte(wrapper), 0o700); err != nil {
		return "", fmt.Errorf("failed to write wrapper script: %w", err)
	}
	return wrapperPath, nil
}

func (l *BackgroundLauncher) track(proc *BackgroundProcess) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.processes[proc.ID] = proc

	id, dir := proc.ID, proc.tempDir
	l.timers[id] = time.AfterFunc(l.opts.CleanupDelay, func() {
		l.mu.Lock()
		delete(l.timers, id)
		l.mu.Unlock()

		if err := os.RemoveAll(dir); err != nil {
			l.logger.Warn("Failed to remove launch temp dir", map[string]interface{}{
				"process_id": id,
				"error":      err.Error(),
			})
		}
	})
}

func (l *BackgroundLauncher) setStatus(id string, status ProcessStatus, pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if proc, ok := l.processes[id]; ok {
		proc.Status = status
		if pid > 0 {
			proc.PID = pid
		}
	}
}

func (l *BackgroundLauncher) snapshot(id string) *BackgroundProcess {
	l.mu.Lock()
	defer l.mu.Unlock()

	proc, ok := l.processes[id]
	if !ok {
		return nil
	}
	cp := *proc
	return &cp
}

// Inspect refreshes and returns the state of a tracked launch. A process
// that died without recording an outcome, for example after SIGKILL, is
// reported as ProcessUnknown.
func (l *BackgroundLauncher) Inspect(id string) (*BackgroundProcess, error) {
	proc := l.snapshot(id)
	if proc == nil {
		return nil, apperrors.ProcessNotFound(id)
	}

	status := readStatus(filepath.Join(proc.tempDir, "status"))
	if status == ProcessUnknown {
		// temp dir already cleaned up
		status = proc.Status
	}
	status = l.liveStatus(proc.PID, status)

	l.setStatus(id, status, 0)
	return l.snapshot(id), nil
}

// Refresh re-checks a launch that is no longer tracked in memory, for
// example one recorded by an earlier server process.
func (l *BackgroundLauncher) Refresh(proc *BackgroundProcess) *BackgroundProcess {
	cp := *proc
	cp.Status = l.liveStatus(cp.PID, cp.Status)
	return &cp
}

// liveStatus turns a pending status into RUNNING or UNKNOWN depending on
// whether the process or one of its children is still alive
func (l *BackgroundLauncher) liveStatus(pid int, status ProcessStatus) ProcessStatus {
	if status != ProcessStarting && status != ProcessRunning {
		return status
	}
	if processAlive(pid) || hasLiveChild(l.spawner, pid) {
		return ProcessRunning
	}
	return ProcessUnknown
}

// LogTail returns up to limit bytes from the end of a launch's log file
func (l *BackgroundLauncher) LogTail(id string, limit int) (string, error) {
	proc := l.snapshot(id)
	if proc == nil {
		return "", apperrors.ProcessNotFound(id)
	}
	return readTail(proc.LogPath, limit)
}

// readTail returns up to limit bytes from the end of a log file. A missing
// file has an empty tail.
func readTail(path string, limit int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", apperrors.Environment(err, path)
	}
	if limit > 0 && len(data) > limit {
		data = data[len(data)-limit:]
	}
	return string(data), nil
}

// List returns all tracked launches, newest first
func (l *BackgroundLauncher) List() []*BackgroundProcess {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := make([]*BackgroundProcess, 0, len(l.processes))
	for _, proc := range l.processes {
		cp := *proc
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	return list
}

// Shutdown cancels pending cleanup timers and removes their temp dirs now.
// Launched processes are left running.
func (l *BackgroundLauncher) Shutdown() {
	l.mu.Lock()
	var dirs []string
	for id, timer := range l.timers {
		if timer.Stop() {
			if proc, ok := l.processes[id]; ok {
				dirs = append(dirs, proc.tempDir)
			}
		}
		delete(l.timers, id)
	}
	l.mu.Unlock()

	for _, dir := range dirs {
		os.RemoveAll(dir)
	}
}

// pendingCleanups reports how many temp dirs are still scheduled for removal
func (l *BackgroundLauncher) pendingCleanups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

func readStatus(path string) ProcessStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessUnknown
	}
	return ParseProcessStatus(string(data))
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// readExcerpt returns the first limit bytes of the log, marked when truncated
func readExcerpt(path string, limit int) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	if len(data) > limit {
		return string(data[:limit]) + "... (truncated)"
	}
	return string(data)
}
