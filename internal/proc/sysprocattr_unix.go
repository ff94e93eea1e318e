//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// Children run in their own process group so Stop can signal the group,
// reaching grandchildren spawned by a shell.
func configureCmdSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
