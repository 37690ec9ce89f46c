//go:build !windows

package installer

import (
	"os"
	"os/exec"
	"strings"
)

func configureCommand(cmd *exec.Cmd, c Command) {
	if c.RawArgs != "" {
		cmd.Args = append([]string{c.Path}, strings.Fields(c.RawArgs)...)
	}
}

func terminateProcessTree(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
