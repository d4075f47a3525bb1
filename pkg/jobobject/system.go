package jobobject

import (
	"errors"
	"syscall"
	"time"
)

// Handle is an opaque kernel object handle
type Handle uintptr

// InfoClass selects the record read or written by the information calls
type InfoClass uint32

// Information classes, as numbered by the OS
const (
	JobObjectBasicAccountingInformation         InfoClass = 1
	JobObjectBasicLimitInformation              InfoClass = 2
	JobObjectBasicProcessIDList                 InfoClass = 3
	JobObjectBasicUIRestrictions                InfoClass = 4
	JobObjectSecurityLimitInformation           InfoClass = 5
	JobObjectEndOfJobTimeInformation            InfoClass = 6
	JobObjectAssociateCompletionPortInformation InfoClass = 7
	JobObjectBasicAndIoAccountingInformation    InfoClass = 8
	JobObjectExtendedLimitInformation           InfoClass = 9
	JobObjectGroupInformation                   InfoClass = 11
	JobObjectNotificationLimitInformation       InfoClass = 12
	JobObjectLimitViolationInformation          InfoClass = 13
	JobObjectGroupInformationEx                 InfoClass = 14
	JobObjectCPURateControlInformation          InfoClass = 15
)

// Completion port message identifiers
const (
	JobObjectMsgEndOfJobTime        uint32 = 1
	JobObjectMsgEndOfProcessTime    uint32 = 2
	JobObjectMsgActiveProcessLimit  uint32 = 3
	JobObjectMsgActiveProcessZero   uint32 = 4
	JobObjectMsgNewProcess          uint32 = 6
	JobObjectMsgExitProcess         uint32 = 7
	JobObjectMsgAbnormalExitProcess uint32 = 8
	JobObjectMsgProcessMemoryLimit  uint32 = 9
	JobObjectMsgJobMemoryLimit      uint32 = 10
)

// OS error codes the group logic reacts to. They are plain errno values so that
// the non-Windows stub and the test fakes can produce them too.
const (
	ErrorInvalidHandle      = syscall.Errno(6)
	ErrorInvalidParameter   = syscall.Errno(87)
	ErrorCallNotImplemented = syscall.Errno(120)
	ErrorAlreadyExists      = syscall.Errno(183)
	ErrorMoreData           = syscall.Errno(234)
	ErrorWaitTimeout        = syscall.Errno(258)
	ErrorAbandonedWait      = syscall.Errno(735)
)

// ErrNoNotification is returned by ReceiveCompletion when the poll interval
// elapsed without a message. It is not a failure.
var ErrNoNotification = errors.New("no completion notification")

// Notification is one message dequeued from a completion port
type Notification struct {
	Key       uintptr
	Code      uint32
	ProcessID uint32
}

// SecurityAttributes describes the security of a newly created group
type SecurityAttributes struct {
	// Descriptor is an SDDL string, e.g. "D:P(A;;GA;;;SY)"
	Descriptor    string
	InheritHandle bool
}

// System is the capability surface the group controller needs from the host OS.
// Every method is a single bounded OS request except ReceiveCompletion, which
// blocks up to timeout (a negative timeout blocks forever).
type System interface {
	// CreateJobObject creates or opens a group; existed reports that the name
	// referred to an existing group.
	CreateJobObject(name string, security *SecurityAttributes) (job Handle, existed bool, err error)
	OpenProcess(pid uint32) (Handle, error)
	IsProcessInJob(process Handle) (bool, error)
	AssignProcessToJobObject(job Handle, process Handle) error
	CloseHandle(h Handle) error
	SetInformationJobObject(job Handle, class InfoClass, payload []byte) error
	// QueryInformationJobObject fills buf and returns the number of bytes written.
	QueryInformationJobObject(job Handle, class InfoClass, buf []byte) (int, error)
	TerminateJobObject(job Handle, exitCode uint32) error
	CreateCompletionPort() (Handle, error)
	ReceiveCompletion(port Handle, timeout time.Duration) (Notification, error)
}

// NewSystem returns the capability surface of the running platform
func NewSystem() System {
	return newSystemImpl()
}
