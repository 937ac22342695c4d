//go:build !windows

package discovery

import (
	"errors"
	"os"
	"syscall"
)

// isProcessRunning checks if a process with the given PID is running (Unix)
func isProcessRunning(pid int) (bool, string) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, "process not found"
	}

	// Signal 0 performs the permission and existence checks without delivering anything.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, ""
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, "process has finished"
	}
	// EPERM means the process exists but belongs to someone else.
	if errors.Is(err, syscall.EPERM) {
		return true, ""
	}
	return false, "cannot signal process"
}
