//go:build windows

package processstate

import (
	"github.com/core-tools/hsu-jobobject/pkg/errors"

	"golang.org/x/sys/windows"
)

// STILL_ACTIVE is the exit code reported for a process that has not exited
const STILL_ACTIVE = 259

// IsProcessRunning reports whether pid names a live process. A process that
// exists but cannot be opened for query counts as running.
func IsProcessRunning(pid uint32) (bool, error) {
	if pid == 0 {
		return false, errors.NewInvalidArgumentError("process id cannot be zero", nil)
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		switch err {
		case windows.ERROR_INVALID_PARAMETER:
			return false, nil
		case windows.ERROR_ACCESS_DENIED:
			return true, nil
		}
		return false, errors.NewOSResourceError("OpenProcess", err).WithContext("pid", pid)
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, errors.NewOSResourceError("GetExitCodeProcess", err).WithContext("pid", pid)
	}

	return exitCode == STILL_ACTIVE, nil
}
