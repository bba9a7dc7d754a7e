package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rama-kairi/go-shell/internal/classifier"
	"github.com/rama-kairi/go-shell/internal/config"
	apperrors "github.com/rama-kairi/go-shell/internal/errors"
	"github.com/rama-kairi/go-shell/internal/logger"
)

const (
	defaultTimeoutSeconds = 60
	loopbackMaxTimeout    = 10
	loopbackConnectFlags  = "--connect-timeout 5 --max-time %d"
	sudoPromptMarker      = "[sudo] password for"
	timeoutExitCode       = 124
	scriptWaitDelay       = 2 * time.Second

	serverCommandWarning = "Server commands should be run in the background to avoid hanging the shell."
	timeoutWarning       = "The command may still be running in the background"
	loopbackWarning      = "The server might not be running or might be listening on a different port."
)

func serverCommandMessage(command string) string {
	return fmt.Sprintf("This appears to be a server command: '%s'. Please run it in the background by adding '&' at the end.", command)
}

// ForegroundOptions configures a ForegroundExecutor
type ForegroundOptions struct {
	Shell        string
	SudoPassword string
	WorkspaceDir string
	TempDir      string // parent for per-invocation scratch dirs, os.TempDir when empty
}

// ForegroundRequest is a single synchronous execution
type ForegroundRequest struct {
	Command        string
	TimeoutSeconds int
	UseSudo        bool
	Cwd            string
}

// ForegroundExecutor runs commands synchronously with a bounded timeout
type ForegroundExecutor struct {
	opts       ForegroundOptions
	classifier *classifier.Classifier
	spawner    Spawner
	logger     *logger.Logger
}

// NewForegroundExecutor creates an executor
func NewForegroundExecutor(opts ForegroundOptions, cls *classifier.Classifier, spawner Spawner, log *logger.Logger) *ForegroundExecutor {
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if cls == nil {
		cls = classifier.Default()
	}
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if log == nil {
		log = logger.Nop()
	}

	return &ForegroundExecutor{
		opts:       opts,
		classifier: cls,
		spawner:    spawner,
		logger:     log.WithComponent("foreground"),
	}
}

// Run executes the command and blocks until it finishes, times out, or ctx
// is cancelled. It never returns an error; failures are encoded in the result.
func (f *ForegroundExecutor) Run(ctx context.Context, req ForegroundRequest) ExecutionResult {
	command := strings.TrimSpace(req.Command)
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	cwd := req.Cwd
	if cwd == "" {
		cwd = f.opts.WorkspaceDir
	}

	if server, _ := f.classifier.IsServerCommand(command); server {
		return failed(cwd, serverCommandMessage(command), serverCommandWarning, apperrors.ServerInForeground(command))
	}

	switch {
	case strings.Contains(command, "&&"):
		return f.runChain(ctx, command, timeout, req.UseSudo, cwd)
	case isChangeDirectory(command):
		return changeDirectory(command, cwd)
	default:
		return f.runSingle(ctx, command, timeout, req.UseSudo, cwd)
	}
}

// runChain executes a '&&' sequence segment by segment. cd segments move the
// in-flight directory without spawning; other segments run as isolated scripts.
func (f *ForegroundExecutor) runChain(ctx context.Context, command string, timeout int, useSudo bool, cwd string) ExecutionResult {
	tempDir, err := f.makeTempDir()
	if err != nil {
		return failed(cwd, fmt.Sprintf("Foreground command execution error: %v", err), "", apperrors.Environment(err, f.opts.TempDir))
	}
	defer os.RemoveAll(tempDir)

	dir := cwd
	var lines []string
	exitCode := 0
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)

	for i, segment := range strings.Split(command, "&&") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		if isChangeDirectory(segment) {
			target := cdTarget(segment)
			resolved := resolveDirectory(dir, target)
			if !isDirectory(resolved) {
				lines = append(lines, fmt.Sprintf("cd: %s: No such file or directory", target))
				exitCode = 1
				break
			}
			dir = resolved
			lines = append(lines, "Changed directory to: "+resolved)
			continue
		}

		body := segment
		if useSudo {
			body = f.withSudo(body)
		}

		// the whole chain shares one timeout budget
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutResult(command, timeout, dir, false)
		}

		res := f.runScript(ctx, tempDir, fmt.Sprintf("segment_%d", i), dir, body, remaining)
		switch {
		case res.timedOut:
			return timeoutResult(command, timeout, dir, false)
		case res.cancelled:
			return failed(dir, "Command cancelled", timeoutWarning, ctx.Err())
		case res.err != nil:
			lines = append(lines, fmt.Sprintf("Error executing command: %v", res.err))
			exitCode = 1
		}
		if exitCode != 0 {
			break
		}

		out := res.output
		if useSudo {
			out = stripSudoPrompts(out)
		}
		if out = strings.TrimSpace(out); out != "" {
			lines = append(lines, out)
		}

		if res.exitCode != 0 {
			exitCode = res.exitCode
			break
		}
	}

	result := ExecutionResult{
		WorkingDirectory: dir,
		Status:           StatusSuccessful,
		Output:           strings.Join(lines, "\n"),
		ExitCode:         exitCode,
	}
	if exitCode != 0 {
		result.Status = StatusFailed
	}
	return result
}

// runSingle executes one command through a generated script that records
// its output, exit code and final directory in side files
func (f *ForegroundExecutor) runSingle(ctx context.Context, command string, timeout int, useSudo bool, cwd string) ExecutionResult {
	loopback := classifier.IsLocalLoopbackRequest(strings.ToLower(command))

	effective := timeout
	body := command
	if loopback {
		effective = min(loopbackMaxTimeout, timeout)
		if !strings.Contains(command, "--connect-timeout") {
			body = command + " " + fmt.Sprintf(loopbackConnectFlags, effective)
		}
	}
	if useSudo {
		body = f.withSudo(body)
	}

	tempDir, err := f.makeTempDir()
	if err != nil {
		return failed(cwd, fmt.Sprintf("Foreground command execution error: %v", err), "", apperrors.Environment(err, f.opts.TempDir))
	}
	defer os.RemoveAll(tempDir)

	f.logger.Debug("Running foreground command", map[string]interface{}{
		"command":  command,
		"cwd":      cwd,
		"timeout":  effective,
		"loopback": loopback,
		"sudo":     useSudo,
	})

	res := f.runScript(ctx, tempDir, "cmd", cwd, body, time.Duration(effective)*time.Second)
	switch {
	case res.timedOut:
		return timeoutResult(command, effective, cwd, loopback)
	case res.cancelled:
		return failed(cwd, "Command cancelled", timeoutWarning, ctx.Err())
	case res.err != nil:
		return failed(cwd, fmt.Sprintf("Foreground command execution error: %v", res.err), "", apperrors.Environment(res.err, tempDir))
	}

	output := res.output
	if useSudo {
		output = stripSudoPrompts(output)
	}

	if loopback && res.exitCode != 0 {
		if port, ok := classifier.LoopbackPort(command); ok {
			output += "\n\n" + portHint(port, portListening(port))
		}
	}

	dir := res.pwd
	if dir == "" {
		dir = cwd
	}

	result := ExecutionResult{
		WorkingDirectory: dir,
		Status:           StatusSuccessful,
		Output:           output,
		ExitCode:         res.exitCode,
	}
	if res.exitCode != 0 {
		result.Status = StatusFailed
	}
	return result
}

type scriptResult struct {
	output    string
	exitCode  int
	pwd       string
	timedOut  bool
	cancelled bool
	err       error
}

// runScript writes body into a script under tempDir and runs it in its own
// process group. On timeout or cancellation the whole group is killed.
func (f *ForegroundExecutor) runScript(ctx context.Context, tempDir, name, cwd, body string, timeout time.Duration) scriptResult {
	scriptPath := filepath.Join(tempDir, name+".sh")
	outFile := filepath.Join(tempDir, name+".out")
	exitFile := filepath.Join(tempDir, name+".exit")
	pwdFile := filepath.Join(tempDir, name+".pwd")

	fallback := f.opts.WorkspaceDir
	if fallback == "" {
		fallback = cwd
	}

	script := fmt.Sprintf(`#!%s
cd %s 2>/dev/null || cd %s || exit 1
{
%s
} > %s 2>&1
echo $? > %s
pwd > %s
`, f.opts.Shell, shellEscape(cwd), shellEscape(fallback), body,
		shellEscape(outFile), shellEscape(exitFile), shellEscape(pwdFile))

	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		return scriptResult{err: err}
	}

	var stderr bytes.Buffer
	cmd := f.spawner.Command(f.opts.Shell, scriptPath)
	cmd.SysProcAttr = newProcessGroup()
	cmd.Stderr = &stderr
	cmd.WaitDelay = scriptWaitDelay

	if err := cmd.Start(); err != nil {
		return scriptResult{err: fmt.Errorf("failed to start command: %w", err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		f.kill(cmd, done)
		return scriptResult{timedOut: true}
	case <-ctx.Done():
		f.kill(cmd, done)
		return scriptResult{cancelled: true}
	}

	res := scriptResult{}
	if data, err := os.ReadFile(outFile); err == nil {
		res.output = string(data)
	}
	if data, err := os.ReadFile(pwdFile); err == nil {
		res.pwd = strings.TrimSpace(string(data))
	}

	if data, err := os.ReadFile(exitFile); err == nil {
		code, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil {
			res.exitCode = code
			return res
		}
	}

	// the script never reached its exit-code line, e.g. the command called exit
	res.exitCode = exitCodeOf(waitErr)
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		if res.output != "" && !strings.HasSuffix(res.output, "\n") {
			res.output += "\n"
		}
		res.output += msg
	}
	return res
}

func (f *ForegroundExecutor) kill(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	if err := killGroup(cmd.Process.Pid); err != nil {
		f.logger.Warn("Failed to kill process group", map[string]interface{}{
			"pid":   cmd.Process.Pid,
			"error": err.Error(),
		})
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(scriptWaitDelay + time.Second):
	}
}

func (f *ForegroundExecutor) makeTempDir() (string, error) {
	return os.MkdirTemp(f.opts.TempDir, "cmd_")
}

func (f *ForegroundExecutor) withSudo(command string) string {
	return fmt.Sprintf("echo %s | sudo -S %s", shellEscape(f.opts.SudoPassword), command)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func timeoutResult(command string, seconds int, dir string, loopback bool) ExecutionResult {
	timeoutErr := apperrors.CommandTimeout(command, seconds)

	if loopback {
		if port, ok := classifier.LoopbackPort(command); ok && !portListening(port) {
			res := failed(dir,
				fmt.Sprintf("Curl command timed out after %d seconds. No process is listening on port %s. Make sure your server is running.", seconds, port),
				loopbackWarning, timeoutErr)
			res.ExitCode = timeoutExitCode
			return res
		}
	}

	res := failed(dir, fmt.Sprintf("Command timed out after %d seconds", seconds), timeoutWarning, timeoutErr)
	res.ExitCode = timeoutExitCode
	return res
}

// changeDirectory handles a bare cd without spawning a process
func changeDirectory(command, cwd string) ExecutionResult {
	target := cdTarget(command)
	resolved := resolveDirectory(cwd, target)

	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", resolved)
		}
		return failed(cwd, fmt.Sprintf("cd: %s: No such file or directory", target), "", apperrors.Environment(err, resolved))
	}

	return ExecutionResult{
		WorkingDirectory: resolved,
		Status:           StatusSuccessful,
		Output:           "Changed directory to: " + resolved,
	}
}

func isChangeDirectory(command string) bool {
	command = strings.TrimSpace(command)
	return command == "cd" || strings.HasPrefix(command, "cd ")
}

// cdTarget extracts and home-expands the target of a cd command; a bare cd
// targets the home directory
func cdTarget(command string) string {
	target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), "cd"))
	if len(target) >= 2 {
		if (target[0] == '"' && target[len(target)-1] == '"') || (target[0] == '\'' && target[len(target)-1] == '\'') {
			target = target[1 : len(target)-1]
		}
	}
	if target == "" {
		target = "~"
	}
	return config.ExpandHome(target)
}

// resolveDirectory resolves a directory path relative to the current directory
func resolveDirectory(currentDir, targetDir string) string {
	if filepath.IsAbs(targetDir) {
		return filepath.Clean(targetDir)
	}
	return filepath.Join(currentDir, targetDir)
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func stripSudoPrompts(output string) string {
	if !strings.Contains(output, sudoPromptMarker) {
		return output
	}
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.Contains(line, sudoPromptMarker) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// portListening dials the loopback port to see whether anything accepts
func portListening(port string) bool {
	for _, host := range []string{"127.0.0.1", "::1"} {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
	}
	return false
}

func portHint(port string, listening bool) string {
	if listening {
		return fmt.Sprintf("A process is listening on port %s, but the curl command failed. The server might not be fully initialized yet.", port)
	}
	return fmt.Sprintf("No process is listening on port %s. Make sure your server is running.", port)
}
