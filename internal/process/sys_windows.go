//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

func setSetpgid(cmd *exec.Cmd) {}

// killProcessGroup shells out to the platform task-kill utility with the
// tree flag; there is no POSIX-style process-group signal to send
// instead.
func killProcessGroup(cmd *exec.Cmd, _ os.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	return kill.Run()
}
