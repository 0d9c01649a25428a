//go:build !linux

package process

import "os/exec"

func isolateNetwork(*exec.Cmd, string) error { return ErrIsolationUnavailable }

func userNamespaces(string) bool { return false }

func confinementAvailable() bool { return false }

func startConfined(*exec.Cmd, ...string) error { return ErrIsolationUnavailable }
