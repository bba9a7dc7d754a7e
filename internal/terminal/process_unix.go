//go:build unix

package terminal

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// newProcessGroup puts the child in its own process group so the whole
// tree can be signalled at once
func newProcessGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// newSession detaches the child into a new session with no controlling terminal
func newSession() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// killGroup sends SIGKILL to every process in the group led by pid
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

// processAlive reports whether pid exists and is not a zombie. EPERM means
// it exists but belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return false
	}
	return !isZombie(pid)
}

// isZombie reads the process state from /proc where available
func isZombie(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// the state follows the parenthesised command name
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] == 'Z'
}

// hasLiveChild reports whether pid has at least one child process
func hasLiveChild(spawner Spawner, pid int) bool {
	if pid <= 0 {
		return false
	}
	out, err := spawner.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}
