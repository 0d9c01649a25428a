//go:build windows

package process

import (
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error { return cmd.Process.Kill() }
}

func exitSignal(*os.ProcessState) string { return "" }
