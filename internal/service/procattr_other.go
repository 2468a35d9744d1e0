//go:build !linux

package service

import "os/exec"

// configureProcess keeps the os/exec defaults, a cancelled process is killed.
func configureProcess(_ *exec.Cmd) {}
