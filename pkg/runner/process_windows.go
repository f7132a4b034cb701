//go:build windows

package runner

import (
	"os/exec"
	"time"
)

// configureCancel keeps the default kill-on-cancel behavior and bounds how
// long Wait may block afterwards.
func configureCancel(cmd *exec.Cmd, grace time.Duration) {
	cmd.WaitDelay = grace
}
