//go:build linux

package process

import (
	"os/exec"
	"sync"
	"syscall"
)

var (
	usernsOnce sync.Once
	usernsOK   bool
)

// isolateNetwork runs the program in fresh user and network namespaces, so
// it sees only an unconfigured loopback interface. No uid map is written:
// the parent thread may already be confined and cannot write /proc, and file
// access is still checked against the service uid.
func isolateNetwork(cmd *exec.Cmd, shell string) error {
	if !userNamespaces(shell) {
		return ErrIsolationUnavailable
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Cloneflags |= syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET
	return nil
}

// userNamespaces probes once whether unprivileged user namespaces work here.
func userNamespaces(shell string) bool {
	usernsOnce.Do(func() {
		cmd := exec.Command(shell, "-c", "exit 0")
		cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET}
		usernsOK = cmd.Run() == nil
	})
	return usernsOK
}
