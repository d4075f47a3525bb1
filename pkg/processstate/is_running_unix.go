//go:build !windows

package processstate

import (
	stdErrors "errors"
	"os"
	"syscall"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
)

// IsProcessRunning reports whether pid names a live process
func IsProcessRunning(pid uint32) (bool, error) {
	if pid == 0 {
		return false, errors.NewInvalidArgumentError("process id cannot be zero", nil)
	}

	// FindProcess always succeeds on Unix; signal 0 probes for existence
	process, err := os.FindProcess(int(pid))
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if stdErrors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	var errno syscall.Errno
	if !stdErrors.As(err, &errno) {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, errors.NewOSResourceError("kill", errno).WithContext("pid", pid)
}
