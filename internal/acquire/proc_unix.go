//go:build unix

package acquire

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// configureProcess starts the tool in its own process group so that
// cancellation kills the helpers it spawns (ffmpeg, shells) along with it.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
