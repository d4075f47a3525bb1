//go:build windows
// +build windows

package jobobject

import (
	stdErrors "errors"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Job object entry points are called through lazy procs so that the last
// error is available even when the call succeeds (CreateJobObjectW reports
// ERROR_ALREADY_EXISTS that way).
var (
	modkernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procCreateJobObjectW          = modkernel32.NewProc("CreateJobObjectW")
	procIsProcessInJob            = modkernel32.NewProc("IsProcessInJob")
	procAssignProcessToJobObject  = modkernel32.NewProc("AssignProcessToJobObject")
	procSetInformationJobObject   = modkernel32.NewProc("SetInformationJobObject")
	procQueryInformationJobObject = modkernel32.NewProc("QueryInformationJobObject")
	procTerminateJobObject        = modkernel32.NewProc("TerminateJobObject")
)

type windowsSystem struct{}

func newSystemImpl() System {
	return &windowsSystem{}
}

// callError turns the last error of a failed call into an errno, never nil
func callError(err error) error {
	var errno syscall.Errno
	if stdErrors.As(err, &errno) && errno == 0 {
		return ErrorInvalidParameter
	}
	if err == nil {
		return ErrorInvalidParameter
	}
	return err
}

func (s *windowsSystem) CreateJobObject(name string, security *SecurityAttributes) (Handle, bool, error) {
	var namePtr *uint16
	if name != "" {
		p, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return 0, false, ErrorInvalidParameter
		}
		namePtr = p
	}

	var sa *windows.SecurityAttributes
	if security != nil {
		sa = &windows.SecurityAttributes{Length: uint32(unsafe.Sizeof(windows.SecurityAttributes{}))}
		if security.Descriptor != "" {
			sd, err := windows.SecurityDescriptorFromString(security.Descriptor)
			if err != nil {
				return 0, false, err
			}
			sa.SecurityDescriptor = sd
		}
		if security.InheritHandle {
			sa.InheritHandle = 1
		}
	}

	r1, _, lastErr := procCreateJobObjectW.Call(
		uintptr(unsafe.Pointer(sa)),
		uintptr(unsafe.Pointer(namePtr)),
	)
	if r1 == 0 {
		return 0, false, callError(lastErr)
	}
	return Handle(r1), stdErrors.Is(lastErr, windows.ERROR_ALREADY_EXISTS), nil
}

func (s *windowsSystem) OpenProcess(pid uint32) (Handle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err != nil {
		return 0, err
	}
	return Handle(h), nil
}

func (s *windowsSystem) IsProcessInJob(process Handle) (bool, error) {
	var result int32
	r1, _, lastErr := procIsProcessInJob.Call(
		uintptr(process),
		0, // any job
		uintptr(unsafe.Pointer(&result)),
	)
	if r1 == 0 {
		return false, callError(lastErr)
	}
	return result != 0, nil
}

func (s *windowsSystem) AssignProcessToJobObject(job Handle, process Handle) error {
	r1, _, lastErr := procAssignProcessToJobObject.Call(uintptr(job), uintptr(process))
	if r1 == 0 {
		return callError(lastErr)
	}
	return nil
}

func (s *windowsSystem) CloseHandle(h Handle) error {
	return windows.CloseHandle(windows.Handle(h))
}

func (s *windowsSystem) SetInformationJobObject(job Handle, class InfoClass, payload []byte) error {
	if len(payload) == 0 {
		return ErrorInvalidParameter
	}
	r1, _, lastErr := procSetInformationJobObject.Call(
		uintptr(job),
		uintptr(class),
		uintptr(unsafe.Pointer(&payload[0])),
		uintptr(len(payload)),
	)
	if r1 == 0 {
		return callError(lastErr)
	}
	return nil
}

func (s *windowsSystem) QueryInformationJobObject(job Handle, class InfoClass, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrorInvalidParameter
	}
	var returned uint32
	r1, _, lastErr := procQueryInformationJobObject.Call(
		uintptr(job),
		uintptr(class),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&returned)),
	)
	if r1 == 0 {
		return int(returned), callError(lastErr)
	}
	return int(returned), nil
}

func (s *windowsSystem) TerminateJobObject(job Handle, exitCode uint32) error {
	r1, _, lastErr := procTerminateJobObject.Call(uintptr(job), uintptr(exitCode))
	if r1 == 0 {
		return callError(lastErr)
	}
	return nil
}

func (s *windowsSystem) CreateCompletionPort() (Handle, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 1)
	if err != nil {
		return 0, err
	}
	return Handle(port), nil
}

func (s *windowsSystem) ReceiveCompletion(port Handle, timeout time.Duration) (Notification, error) {
	milliseconds := uint32(windows.INFINITE)
	if timeout >= 0 {
		milliseconds = uint32(timeout / time.Millisecond)
	}

	var code uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(windows.Handle(port), &code, &key, &overlapped, milliseconds)
	if err != nil {
		if overlapped == nil && stdErrors.Is(err, ErrorWaitTimeout) {
			return Notification{}, ErrNoNotification
		}
		return Notification{}, err
	}

	// For job messages the overlapped slot carries the process id
	return Notification{
		Key:       key,
		Code:      code,
		ProcessID: uint32(uintptr(unsafe.Pointer(overlapped))),
	}, nil
}
