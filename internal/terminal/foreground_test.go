package terminal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rama-kairi/go-shell/internal/classifier"
	apperrors "github.com/rama-kairi/go-shell/internal/errors"
	"github.com/rama-kairi/go-shell/internal/logger"
)

// setupForeground creates an executor rooted in a fresh workspace
func setupForeground(t *testing.T) (*ForegroundExecutor, string, *CountingSpawner) {
	t.Helper()

	workspace := t.TempDir()
	spawner := &CountingSpawner{}
	f := NewForegroundExecutor(ForegroundOptions{
		Shell:        "/bin/bash",
		WorkspaceDir: workspace,
		TempDir:      t.TempDir(),
	}, classifier.Default(), spawner, logger.Nop())

	return f, workspace, spawner
}

func run(f *ForegroundExecutor, command, cwd string, timeout int) ExecutionResult {
	return f.Run(context.Background(), ForegroundRequest{
		Command:        command,
		TimeoutSeconds: timeout,
		Cwd:            cwd,
	})
}

// freePort returns a loopback port nothing is listening on
func freePort(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	return port
}

// waitExited polls until pid is gone
func waitExited(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !processAlive(pid)
}

func TestRunSimpleCommand(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	res := run(f, "echo hello", workspace, 10)

	if res.Status != StatusSuccessful {
		t.Fatalf("Expected Successful, got %s (%q)", res.Status, res.Output)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("Expected output 'hello', got %q", res.Output)
	}
	if res.WorkingDirectory != workspace {
		t.Errorf("Expected working directory %s, got %s", workspace, res.WorkingDirectory)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunFailingCommand(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	t.Run("non-zero exit", func(t *testing.T) {
		res := run(f, "ls /definitely/not/here", workspace, 10)
		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		if res.ExitCode == 0 {
			t.Error("Expected non-zero exit code")
		}
		if res.Output == "" {
			t.Error("Expected stderr to be captured in output")
		}
	})

	t.Run("explicit exit", func(t *testing.T) {
		res := run(f, "echo before; exit 3", workspace, 10)
		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		if res.ExitCode != 3 {
			t.Errorf("Expected exit code 3, got %d", res.ExitCode)
		}
		if !strings.Contains(res.Output, "before") {
			t.Errorf("Expected output before exit, got %q", res.Output)
		}
	})
}

func TestChangeDirectory(t *testing.T) {
	f, workspace, spawner := setupForeground(t)

	sub := filepath.Join(workspace, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	t.Run("existing directory", func(t *testing.T) {
		res := run(f, "cd sub", workspace, 10)
		if res.Status != StatusSuccessful {
			t.Fatalf("Expected Successful, got %s (%q)", res.Status, res.Output)
		}
		if res.WorkingDirectory != sub {
			t.Errorf("Expected %s, got %s", sub, res.WorkingDirectory)
		}
		if res.Output != "Changed directory to: "+sub {
			t.Errorf("Unexpected output %q", res.Output)
		}
	})

	t.Run("quoted absolute path", func(t *testing.T) {
		res := run(f, fmt.Sprintf("cd %q", sub), "/", 10)
		if res.WorkingDirectory != sub {
			t.Errorf("Expected %s, got %s", sub, res.WorkingDirectory)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		res := run(f, "cd missing", workspace, 10)
		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		if res.Output != "cd: missing: No such file or directory" {
			t.Errorf("Unexpected output %q", res.Output)
		}
		if res.WorkingDirectory != workspace {
			t.Errorf("Expected directory to stay %s, got %s", workspace, res.WorkingDirectory)
		}
		if apperrors.KindOf(res.Err) != apperrors.KindEnvironment {
			t.Errorf("Expected environment failure, got %v", apperrors.KindOf(res.Err))
		}
	})

	if spawner.Count() != 0 {
		t.Errorf("Expected cd to spawn nothing, got %d spawns", spawner.Count())
	}
}

func TestCompoundCommand(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	t.Run("mkdir cd pwd", func(t *testing.T) {
		res := run(f, "mkdir d1 && cd d1 && pwd", workspace, 10)
		want := filepath.Join(workspace, "d1")

		if res.Status != StatusSuccessful {
			t.Fatalf("Expected Successful, got %s (%q)", res.Status, res.Output)
		}
		if res.WorkingDirectory != want {
			t.Errorf("Expected working directory %s, got %s", want, res.WorkingDirectory)
		}
		lines := strings.Split(res.Output, "\n")
		if len(lines) != 2 || lines[0] != "Changed directory to: "+want || lines[1] != want {
			t.Errorf("Unexpected output %q", res.Output)
		}
	})

	t.Run("stops at first failure", func(t *testing.T) {
		res := run(f, "echo one && false && echo two", workspace, 10)
		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		if !strings.Contains(res.Output, "one") || strings.Contains(res.Output, "two") {
			t.Errorf("Unexpected output %q", res.Output)
		}
	})

	t.Run("failed cd keeps in-flight directory", func(t *testing.T) {
		res := run(f, "mkdir -p d2 && cd d2 && cd nope && echo hi", workspace, 10)
		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		if !strings.HasSuffix(res.Output, "cd: nope: No such file or directory") {
			t.Errorf("Unexpected output %q", res.Output)
		}
		if res.WorkingDirectory != filepath.Join(workspace, "d2") {
			t.Errorf("Expected in-flight directory d2, got %s", res.WorkingDirectory)
		}
	})
}

func TestSingleCommandReportsFinalDirectory(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	res := run(f, "mkdir -p a/b; cd a/b", workspace, 10)
	if res.Status != StatusSuccessful {
		t.Fatalf("Expected Successful, got %s (%q)", res.Status, res.Output)
	}
	if want := filepath.Join(workspace, "a", "b"); res.WorkingDirectory != want {
		t.Errorf("Expected %s, got %s", want, res.WorkingDirectory)
	}
}

func TestTimeoutKillsProcessTree(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	start := time.Now()
	res := run(f, "sleep 30 & echo $! > child.pid; sleep 30", workspace, 1)
	elapsed := time.Since(start)

	if res.Status != StatusFailed {
		t.Fatalf("Expected Failed, got %s", res.Status)
	}
	if res.Output != "Command timed out after 1 seconds" {
		t.Errorf("Unexpected output %q", res.Output)
	}
	if res.Warnings != timeoutWarning {
		t.Errorf("Unexpected warnings %q", res.Warnings)
	}
	if res.ExitCode != timeoutExitCode {
		t.Errorf("Expected exit code %d, got %d", timeoutExitCode, res.ExitCode)
	}
	if elapsed > 6*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "child.pid"))
	if err != nil {
		t.Fatalf("Failed to read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("Invalid child pid: %v", err)
	}
	if !waitExited(pid, 3*time.Second) {
		t.Errorf("Expected child process %d to be killed", pid)
	}
}

func TestChainSharesTimeout(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	start := time.Now()
	res := run(f, "sleep 1.5 && sleep 1.5 && sleep 1.5", workspace, 2)
	elapsed := time.Since(start)

	if res.Status != StatusFailed {
		t.Fatalf("Expected Failed, got %s (%q)", res.Status, res.Output)
	}
	if res.Output != "Command timed out after 2 seconds" {
		t.Errorf("Unexpected output %q", res.Output)
	}
	if res.ExitCode != timeoutExitCode {
		t.Errorf("Expected exit code %d, got %d", timeoutExitCode, res.ExitCode)
	}
	if elapsed > 4*time.Second {
		t.Errorf("Chain ran for %v, longer than its timeout allows", elapsed)
	}
}

func TestContextCancellation(t *testing.T) {
	f, workspace, _ := setupForeground(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := f.Run(ctx, ForegroundRequest{Command: "sleep 30", TimeoutSeconds: 60, Cwd: workspace})

	if res.Status != StatusFailed || res.Output != "Command cancelled" {
		t.Errorf("Expected cancelled result, got %s %q", res.Status, res.Output)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Cancellation took too long: %v", time.Since(start))
	}
}

func TestServerCommandRejected(t *testing.T) {
	f, workspace, spawner := setupForeground(t)

	res := run(f, "npm start", workspace, 10)
	if res.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", res.Status)
	}
	if res.Output != serverCommandMessage("npm start") {
		t.Errorf("Unexpected output %q", res.Output)
	}
	if res.Warnings != serverCommandWarning {
		t.Errorf("Unexpected warnings %q", res.Warnings)
	}
	if spawner.Count() != 0 {
		t.Errorf("Expected no spawns, got %d", spawner.Count())
	}
}

func TestLoopbackCheck(t *testing.T) {
	if _, err := exec.LookPath("curl"); err != nil {
		t.Skip("curl not installed")
	}
	f, workspace, _ := setupForeground(t)

	t.Run("nothing listening", func(t *testing.T) {
		port := freePort(t)
		res := run(f, "curl -s http://localhost:"+port+"/", workspace, 60)

		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		want := fmt.Sprintf("No process is listening on port %s. Make sure your server is running.", port)
		if !strings.HasSuffix(res.Output, "\n\n"+want) {
			t.Errorf("Expected hint %q, got %q", want, res.Output)
		}
	})

	t.Run("listening but failing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
		res := run(f, "curl -sf "+srv.URL+"/", workspace, 60)

		if res.Status != StatusFailed {
			t.Errorf("Expected Failed, got %s", res.Status)
		}
		if !strings.Contains(res.Output, fmt.Sprintf("A process is listening on port %s", port)) {
			t.Errorf("Unexpected output %q", res.Output)
		}
	})

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "pong")
		}))
		defer srv.Close()

		res := run(f, "curl -s "+srv.URL+"/", workspace, 60)
		if res.Status != StatusSuccessful || res.Output != "pong" {
			t.Errorf("Expected pong, got %s %q", res.Status, res.Output)
		}
	})
}

func TestTimeoutResult(t *testing.T) {
	port := freePort(t)

	t.Run("loopback without listener", func(t *testing.T) {
		res := timeoutResult("curl http://localhost:"+port, 10, "/w", true)
		want := fmt.Sprintf("Curl command timed out after 10 seconds. No process is listening on port %s. Make sure your server is running.", port)
		if res.Output != want {
			t.Errorf("Expected %q, got %q", want, res.Output)
		}
		if res.Warnings != loopbackWarning {
			t.Errorf("Unexpected warnings %q", res.Warnings)
		}
	})

	t.Run("plain command", func(t *testing.T) {
		res := timeoutResult("sleep 100", 5, "/w", false)
		if res.Output != "Command timed out after 5 seconds" {
			t.Errorf("Unexpected output %q", res.Output)
		}
		if apperrors.KindOf(res.Err) != apperrors.KindTimeout {
			t.Errorf("Expected timeout kind, got %v", apperrors.KindOf(res.Err))
		}
		if res.WorkingDirectory != "/w" {
			t.Errorf("Expected /w, got %s", res.WorkingDirectory)
		}
	})
}

func TestSudoHelpers(t *testing.T) {
	f := NewForegroundExecutor(ForegroundOptions{SudoPassword: "s3cret pw"}, nil, nil, nil)

	if got := f.withSudo("apt update"); got != "echo 's3cret pw' | sudo -S apt update" {
		t.Errorf("Unexpected sudo command %q", got)
	}

	out := "[sudo] password for dev: \nline one\nline two"
	if got := stripSudoPrompts(out); got != "line one\nline two" {
		t.Errorf("Unexpected stripped output %q", got)
	}
	if got := stripSudoPrompts("plain"); got != "plain" {
		t.Errorf("Expected untouched output, got %q", got)
	}
}

func TestDirectoryHelpers(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		command string
		target  string
	}{
		{"cd sub", "sub"},
		{"cd  'with space' ", "with space"},
		{`cd "/abs/path"`, "/abs/path"},
		{"cd", home},
		{"cd ~", home},
		{"cd ~/projects", filepath.Join(home, "projects")},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if !isChangeDirectory(tt.command) {
				t.Errorf("Expected %q to be a cd command", tt.command)
			}
			if got := cdTarget(tt.command); got != tt.target {
				t.Errorf("Expected target %q, got %q", tt.target, got)
			}
		})
	}

	if isChangeDirectory("cdrecord -v") {
		t.Error("Expected cdrecord not to be a cd command")
	}

	if got := resolveDirectory("/a/b", "../c"); got != "/a/c" {
		t.Errorf("Expected /a/c, got %s", got)
	}
	if got := resolveDirectory("/a/b", "/x/./y"); got != "/x/y" {
		t.Errorf("Expected /x/y, got %s", got)
	}
}
