//go:build !windows

package runner

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/term"
)

// configureCancel decides how the workload is signalled. A workload that
// reads from a terminal stays in the foreground process group, otherwise job
// control stops it on its first read, and only its own pid gets SIGTERM.
// Any other workload runs in its own process group and the whole group gets
// SIGTERM. If the workload has not exited after grace, it is killed.
func configureCancel(cmd *exec.Cmd, grace time.Duration) {
	group := !isTerminal(cmd.Stdin)
	if group {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		if group {
			pid = -pid
		}

		err := syscall.Kill(pid, syscall.SIGTERM)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}

		return err
	}
	cmd.WaitDelay = grace
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}
