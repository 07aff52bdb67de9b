//go:build windows

package executor

import "os/exec"

// setProcAttr is a no-op on Windows. Windows uses job objects instead of
// POSIX process groups; context cancellation terminates the direct child.
func setProcAttr(cmd *exec.Cmd) {}

// killProcessGroup is a no-op on Windows.
func killProcessGroup(pid int) error {
	return nil
}
