package jobobject_test

import (
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/jobobject"

	"github.com/stretchr/testify/mock"
)

// mockSystem is used where a test scripts individual OS results
type mockSystem struct {
	mock.Mock
}

func (m *mockSystem) CreateJobObject(name string, security *jobobject.SecurityAttributes) (jobobject.Handle, bool, error) {
	args := m.Called(name, security)
	return args.Get(0).(jobobject.Handle), args.Bool(1), args.Error(2)
}

func (m *mockSystem) OpenProcess(pid uint32) (jobobject.Handle, error) {
	args := m.Called(pid)
	return args.Get(0).(jobobject.Handle), args.Error(1)
}

func (m *mockSystem) IsProcessInJob(process jobobject.Handle) (bool, error) {
	args := m.Called(process)
	return args.Bool(0), args.Error(1)
}

func (m *mockSystem) AssignProcessToJobObject(job jobobject.Handle, process jobobject.Handle) error {
	return m.Called(job, process).Error(0)
}

func (m *mockSystem) CloseHandle(h jobobject.Handle) error {
	return m.Called(h).Error(0)
}

func (m *mockSystem) SetInformationJobObject(job jobobject.Handle, class jobobject.InfoClass, payload []byte) error {
	return m.Called(job, class, payload).Error(0)
}

func (m *mockSystem) QueryInformationJobObject(job jobobject.Handle, class jobobject.InfoClass, buf []byte) (int, error) {
	args := m.Called(job, class, buf)
	return args.Int(0), args.Error(1)
}

func (m *mockSystem) TerminateJobObject(job jobobject.Handle, exitCode uint32) error {
	return m.Called(job, exitCode).Error(0)
}

func (m *mockSystem) CreateCompletionPort() (jobobject.Handle, error) {
	args := m.Called()
	return args.Get(0).(jobobject.Handle), args.Error(1)
}

func (m *mockSystem) ReceiveCompletion(port jobobject.Handle, timeout time.Duration) (jobobject.Notification, error) {
	args := m.Called(port, timeout)
	return args.Get(0).(jobobject.Notification), args.Error(1)
}
