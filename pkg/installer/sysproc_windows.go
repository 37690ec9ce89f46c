//go:build windows

package installer

import (
	"fmt"
	"os/exec"
	"syscall"
)

func configureCommand(cmd *exec.Cmd, c Command) {
	attr := &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
	if c.RawArgs != "" {
		attr.CmdLine = fmt.Sprintf(`"%s" %s`, c.Path, c.RawArgs)
	}
	cmd.SysProcAttr = attr
}

// terminateProcessTree kills the process and every child it started.
func terminateProcessTree(pid int) error {
	kill := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", pid))
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return kill.Run()
}
