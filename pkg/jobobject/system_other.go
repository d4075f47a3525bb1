//go:build !windows
// +build !windows

package jobobject

import "time"

// Job objects only exist on Windows. Elsewhere every capability fails with
// ERROR_CALL_NOT_IMPLEMENTED so that callers get an os_resource error.
type unsupportedSystem struct{}

func newSystemImpl() System {
	return unsupportedSystem{}
}

func (unsupportedSystem) CreateJobObject(string, *SecurityAttributes) (Handle, bool, error) {
	return 0, false, ErrorCallNotImplemented
}

func (unsupportedSystem) OpenProcess(uint32) (Handle, error) {
	return 0, ErrorCallNotImplemented
}

func (unsupportedSystem) IsProcessInJob(Handle) (bool, error) {
	return false, ErrorCallNotImplemented
}

func (unsupportedSystem) AssignProcessToJobObject(Handle, Handle) error {
	return ErrorCallNotImplemented
}

func (unsupportedSystem) CloseHandle(Handle) error {
	return ErrorCallNotImplemented
}

func (unsupportedSystem) SetInformationJobObject(Handle, InfoClass, []byte) error {
	return ErrorCallNotImplemented
}

func (unsupportedSystem) QueryInformationJobObject(Handle, InfoClass, []byte) (int, error) {
	return 0, ErrorCallNotImplemented
}

func (unsupportedSystem) TerminateJobObject(Handle, uint32) error {
	return ErrorCallNotImplemented
}

func (unsupportedSystem) CreateCompletionPort() (Handle, error) {
	return 0, ErrorCallNotImplemented
}

func (unsupportedSystem) ReceiveCompletion(Handle, time.Duration) (Notification, error) {
	return Notification{}, ErrorCallNotImplemented
}
