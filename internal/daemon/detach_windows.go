//go:build windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so console Ctrl+C skips it
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
