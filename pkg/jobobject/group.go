package jobobject

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"

	"github.com/google/uuid"
)

// MaxMembers bounds the admissions made through one Group over its lifetime
const MaxMembers = 100

// maxProcessIDListAttempts bounds the buffer growth of MemberPIDs
const maxProcessIDListAttempts = 4

// GroupOptions selects the group to create or open
type GroupOptions struct {
	Name       string              `yaml:"name,omitempty"`
	RequireNew bool                `yaml:"require_new,omitempty"`
	Security   *SecurityAttributes `yaml:"-"`
}

// Group owns one job object handle. It is not safe for concurrent mutation;
// only Close may race with a running WaitForDrain.
type Group struct {
	id      string
	sys     System
	handle  Handle
	name    string
	opened  bool
	members []uint32
	closed  atomic.Bool
	logger  logging.Logger
}

// CreateOrOpen creates the group, or opens it when a group of that name
// already exists and RequireNew is false. The caller owns the returned group
// and must Close it.
func CreateOrOpen(sys System, opts GroupOptions, logger logging.Logger) (*Group, error) {
	if sys == nil {
		return nil, errors.NewInvalidArgumentError("system cannot be nil", nil)
	}
	if err := ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	handle, existed, err := sys.CreateJobObject(opts.Name, opts.Security)
	if err != nil {
		logger.Errorf("Failed to create group, name: '%s', error: %v", opts.Name, err)
		return nil, errors.NewOSResourceError("CreateJobObject", err).WithContext("name", opts.Name)
	}

	if existed && opts.RequireNew {
		if closeErr := sys.CloseHandle(handle); closeErr != nil {
			logger.Warnf("Failed to release handle of existing group, name: '%s', error: %v", opts.Name, closeErr)
		}
		return nil, errors.NewAlreadyExistsError(fmt.Sprintf("group '%s' already exists", opts.Name), nil).
			WithContext("name", opts.Name)
	}

	g := &Group{
		id:     uuid.New().String(),
		sys:    sys,
		handle: handle,
		name:   opts.Name,
		opened: existed,
		logger: logger,
	}
	runtime.SetFinalizer(g, (*Group).finalize)

	if existed {
		logger.Infof("Opened existing group, id: %s, name: '%s'", g.id, g.name)
	} else {
		logger.Infof("Created group, id: %s, name: '%s'", g.id, g.name)
	}
	return g, nil
}

// With creates or opens a group, runs fn and always closes the group.
func With(sys System, opts GroupOptions, logger logging.Logger, fn func(g *Group) error) error {
	g, err := CreateOrOpen(sys, opts, logger)
	if err != nil {
		return err
	}
	defer g.Close()
	return fn(g)
}

// ID is a correlation id for logs; it has no meaning to the OS
func (g *Group) ID() string {
	return g.id
}

// Name returns the group name, empty for an anonymous group
func (g *Group) Name() string {
	return g.name
}

// Anonymous reports whether the group has no name
func (g *Group) Anonymous() bool {
	return g.name == ""
}

// Opened reports whether construction opened a pre-existing group
func (g *Group) Opened() bool {
	return g.opened
}

// Closed reports whether the handle has been released
func (g *Group) Closed() bool {
	return g.closed.Load()
}

// Members returns the processes admitted through this Group, in admission order
func (g *Group) Members() []uint32 {
	members := make([]uint32, len(g.members))
	copy(members, g.members)
	return members
}

func (g *Group) key() uintptr {
	return uintptr(g.handle)
}

func (g *Group) checkOpen(op string) error {
	if g.closed.Load() {
		return errors.NewOSResourceError(op, ErrorInvalidHandle).WithContext("group_id", g.id)
	}
	return nil
}

// Admit assigns the process to the group. A process already in any group is
// rejected. On failure the member list is unchanged. Assignment cannot be undone.
func (g *Group) Admit(pid uint32) (uint32, error) {
	if pid == 0 {
		return 0, errors.NewInvalidArgumentError("process id cannot be zero", nil)
	}
	if err := g.checkOpen("AssignProcessToJobObject"); err != nil {
		return 0, err
	}

	process, err := g.sys.OpenProcess(pid)
	if err != nil {
		g.logger.Errorf("Failed to open process, group: %s, pid: %d, error: %v", g.id, pid, err)
		return 0, errors.NewOSResourceError("OpenProcess", err).WithContext("pid", pid)
	}
	defer func() {
		if closeErr := g.sys.CloseHandle(process); closeErr != nil {
			g.logger.Warnf("Failed to release process handle, group: %s, pid: %d, error: %v", g.id, pid, closeErr)
		}
	}()

	inJob, err := g.sys.IsProcessInJob(process)
	if err != nil {
		return 0, errors.NewOSResourceError("IsProcessInJob", err).WithContext("pid", pid)
	}
	if inJob {
		return 0, errors.NewAlreadyGroupedError(fmt.Sprintf("pid %d is already part of a group", pid), nil).
			WithContext("pid", pid)
	}

	if len(g.members) >= MaxMembers {
		return 0, errors.NewCapacityExceededError(
			fmt.Sprintf("group already holds %d processes", MaxMembers), nil).
			WithContext("pid", pid).WithContext("group_id", g.id)
	}

	if err := g.sys.AssignProcessToJobObject(g.handle, process); err != nil {
		g.logger.Errorf("Failed to assign process, group: %s, pid: %d, error: %v", g.id, pid, err)
		return 0, errors.NewOSResourceError("AssignProcessToJobObject", err).WithContext("pid", pid)
	}

	g.members = append(g.members, pid)
	g.logger.Infof("Admitted process, group: %s, pid: %d, members: %d", g.id, pid, len(g.members))
	return pid, nil
}

// ApplyLimits replaces the limits in force with req in a single call.
// Conflicting categories are not checked here; the OS rejects them.
func (g *Group) ApplyLimits(req *LimitRequest) error {
	if req == nil {
		return errors.NewInvalidArgumentError("limit request cannot be nil", nil)
	}
	if err := g.checkOpen("SetInformationJobObject"); err != nil {
		return err
	}

	flags := req.Flags()
	if flags.Has(LimitJobTime | LimitPreserveJobTime) {
		g.logger.Warnf("job_time and preserve_job_time are mutually exclusive, group: %s", g.id)
	}

	g.logger.Debugf("Applying limits, group: %s, flags: %s", g.id, flags)
	if err := g.sys.SetInformationJobObject(g.handle, JobObjectExtendedLimitInformation, EncodeLimitRequest(req)); err != nil {
		g.logger.Errorf("Failed to apply limits, group: %s, flags: %s, error: %v", g.id, flags, err)
		return errors.NewOSResourceError("SetInformationJobObject", err).WithContext("flags", flags.String())
	}

	g.logger.Infof("Applied limits, group: %s, flags: %s", g.id, flags)
	return nil
}

// Configure builds a limit request from named options and applies it
func (g *Group) Configure(opts Options) error {
	req, err := Build(opts)
	if err != nil {
		return err
	}
	return g.ApplyLimits(req)
}

func (g *Group) query(class InfoClass, size int) ([]byte, error) {
	if err := g.checkOpen("QueryInformationJobObject"); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := g.sys.QueryInformationJobObject(g.handle, class, buf)
	if err != nil {
		return nil, errors.NewOSResourceError("QueryInformationJobObject", err).WithContext("class", uint32(class))
	}
	if n < 0 || n > len(buf) {
		return nil, errors.NewMalformedResponseError(
			fmt.Sprintf("query reported %d bytes for a %d byte buffer", n, len(buf)), nil).
			WithContext("class", uint32(class))
	}
	return buf[:n], nil
}

// AccountInfo reads the accounting counters of the group
func (g *Group) AccountInfo() (*AccountingSnapshot, error) {
	data, err := g.query(JobObjectBasicAndIoAccountingInformation, accountingSize)
	if err != nil {
		return nil, err
	}
	return DecodeAccounting(data)
}

// LimitInfo reads the limits in force and the memory peaks of the group
func (g *Group) LimitInfo() (*LimitInfo, error) {
	data, err := g.query(JobObjectExtendedLimitInformation, extendedLimitSize)
	if err != nil {
		return nil, err
	}
	return DecodeLimitInfo(data)
}

// MemberPIDs asks the OS for every process currently in the group, including
// processes admitted by other handles and children that inherited membership.
func (g *Group) MemberPIDs() ([]uint32, error) {
	if err := g.checkOpen("QueryInformationJobObject"); err != nil {
		return nil, err
	}

	capacity := MaxMembers
	for attempt := 0; attempt < maxProcessIDListAttempts; attempt++ {
		buf := make([]byte, processIDListSize(capacity))
		n, err := g.sys.QueryInformationJobObject(g.handle, JobObjectBasicProcessIDList, buf)
		moreData := stdErrors.Is(err, ErrorMoreData)
		if err != nil && !moreData {
			return nil, errors.NewOSResourceError("QueryInformationJobObject", err).
				WithContext("class", uint32(JobObjectBasicProcessIDList))
		}
		if n > len(buf) || (!moreData && n < processIDListHeader) {
			return nil, errors.NewMalformedResponseError(
				fmt.Sprintf("process id list reported %d bytes for a %d byte buffer", n, len(buf)), nil)
		}

		if moreData {
			next := capacity * 2
			if n >= processIDListHeader {
				if assigned, _, _ := decodeProcessIDList(buf[:n]); int(assigned) > capacity {
					next = int(assigned)
				}
			}
			g.logger.Debugf("Growing process id list, group: %s, capacity: %d -> %d", g.id, capacity, next)
			capacity = next
			continue
		}

		_, listed, complete := decodeProcessIDList(buf[:n])
		if !complete {
			return nil, errors.NewMalformedResponseError("process id list is truncated", nil)
		}
		pids := make([]uint32, 0, len(listed))
		for _, pid := range listed {
			if pid != 0 {
				pids = append(pids, uint32(pid))
			}
		}
		return pids, nil
	}

	return nil, errors.NewOSResourceError("QueryInformationJobObject", ErrorMoreData).
		WithContext("class", uint32(JobObjectBasicProcessIDList))
}

// Terminate kills every process in the group with exitCode and resets the
// local member list. OS-level membership of a process is never undone.
func (g *Group) Terminate(exitCode uint32) error {
	if err := g.checkOpen("TerminateJobObject"); err != nil {
		return err
	}
	if err := g.sys.TerminateJobObject(g.handle, exitCode); err != nil {
		g.logger.Errorf("Failed to terminate group, group: %s, error: %v", g.id, err)
		return errors.NewOSResourceError("TerminateJobObject", err).WithContext("exit_code", exitCode)
	}
	g.logger.Infof("Terminated group, group: %s, exit code: %d, members: %d", g.id, exitCode, len(g.members))
	g.members = nil
	return nil
}

// Close releases the handle. It is idempotent and always returns nil; a
// release failure is only logged.
func (g *Group) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(g, nil)
	g.release()
	return nil
}

func (g *Group) release() {
	if err := g.sys.CloseHandle(g.handle); err != nil {
		g.logger.Warnf("Failed to release group handle, group: %s, error: %v", g.id, err)
		return
	}
	g.logger.Debugf("Released group handle, group: %s", g.id)
}

func (g *Group) finalize() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.logger.Warnf("Group was never closed, releasing handle, group: %s", g.id)
	g.release()
}
