// Package jobobjecttest provides an in-memory jobobject.System for tests of
// code built on top of groups.
package jobobjecttest

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
)

type kind int

const (
	kindJob kind = iota
	kindProcess
	kindPort
)

type job struct {
	limit      []byte
	members    []uint32
	total      uint32
	terminated uint32
	exitCode   uint32
	port       jobobject.Handle
	key        uintptr
	associated bool
}

type process struct {
	running bool
	job     *job
}

type object struct {
	kind kind
	job  *job
	pid  uint32
	port chan jobobject.Notification
}

// FakeSystem models job objects, processes and completion ports in memory.
// Processes exist only after Spawn, unless AutoSpawn is set, in which case
// any non-zero pid opened is treated as a running process.
type FakeSystem struct {
	AutoSpawn bool

	mutex      sync.Mutex
	nextHandle jobobject.Handle
	named      map[string]*job
	handles    map[jobobject.Handle]*object
	processes  map[uint32]*process
	releases   map[jobobject.Handle]int
	failures   map[string]error
}

func NewFakeSystem() *FakeSystem {
	return &FakeSystem{
		nextHandle: 0x1000,
		named:      make(map[string]*job),
		handles:    make(map[jobobject.Handle]*object),
		processes:  make(map[uint32]*process),
		releases:   make(map[jobobject.Handle]int),
		failures:   make(map[string]error),
	}
}

// Spawn registers running processes
func (f *FakeSystem) Spawn(pids ...uint32) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, pid := range pids {
		f.processes[pid] = &process{running: true}
	}
}

// Exit stops a process and posts the messages the OS would post
func (f *FakeSystem) Exit(pid uint32) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	p := f.processes[pid]
	if p == nil || !p.running {
		return
	}
	p.running = false
	if p.job != nil {
		f.post(p.job, jobobject.JobObjectMsgExitProcess, pid)
		if f.active(p.job) == 0 {
			f.post(p.job, jobobject.JobObjectMsgActiveProcessZero, 0)
		}
	}
}

// SpawnChild starts child as a process created by parent. Like the OS, the
// child joins every job parent belongs to without an explicit assignment.
func (f *FakeSystem) SpawnChild(parent, child uint32) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	p := &process{running: true}
	f.processes[child] = p
	if owner := f.processes[parent]; owner != nil && owner.job != nil {
		p.job = owner.job
		owner.job.members = append(owner.job.members, child)
		owner.job.total++
		f.post(owner.job, jobobject.JobObjectMsgNewProcess, child)
	}
}

// Inject queues an arbitrary notification on a completion port
func (f *FakeSystem) Inject(port jobobject.Handle, n jobobject.Notification) {
	f.mutex.Lock()
	obj, ok := f.handles[port]
	f.mutex.Unlock()
	if ok && obj.kind == kindPort {
		obj.port <- n
	}
}

// PortOf returns the completion port associated with the job behind h, or
// zero if there is none
func (f *FakeSystem) PortOf(h jobobject.Handle) jobobject.Handle {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	j, err := f.lookupJob(h)
	if err != nil || !j.associated {
		return 0
	}
	return j.port
}

// Running reports whether the fake considers pid alive
func (f *FakeSystem) Running(pid uint32) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	p := f.processes[pid]
	return p != nil && p.running
}

// Fail makes every later call of op return err; a nil err clears it
func (f *FakeSystem) Fail(op string, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// OpenHandles returns the number of handles not yet closed
func (f *FakeSystem) OpenHandles() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.handles)
}

// Releases returns the number of CloseHandle calls
func (f *FakeSystem) Releases() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	total := 0
	for _, count := range f.releases {
		total += count
	}
	return total
}

// ReleasesOf returns the number of CloseHandle calls for h
func (f *FakeSystem) ReleasesOf(h jobobject.Handle) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.releases[h]
}

// LastExitCode returns the exit code of the last termination of any group
// holding pid
func (f *FakeSystem) LastExitCode(pid uint32) (uint32, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	p := f.processes[pid]
	if p == nil || p.job == nil || p.running {
		return 0, false
	}
	return p.job.exitCode, true
}

func (f *FakeSystem) newHandle(obj *object) jobobject.Handle {
	f.nextHandle += 4
	f.handles[f.nextHandle] = obj
	return f.nextHandle
}

func (f *FakeSystem) active(j *job) int {
	count := 0
	for _, pid := range j.members {
		if f.processes[pid].running {
			count++
		}
	}
	return count
}

func (f *FakeSystem) post(j *job, code uint32, pid uint32) {
	if !j.associated {
		return
	}
	obj, ok := f.handles[j.port]
	if !ok {
		return
	}
	select {
	case obj.port <- jobobject.Notification{Key: j.key, Code: code, ProcessID: pid}:
	default:
	}
}

func (f *FakeSystem) lookupJob(h jobobject.Handle) (*job, error) {
	obj, ok := f.handles[h]
	if !ok || obj.kind != kindJob {
		return nil, jobobject.ErrorInvalidHandle
	}
	return obj.job, nil
}

func (f *FakeSystem) CreateJobObject(name string, security *jobobject.SecurityAttributes) (jobobject.Handle, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["CreateJobObject"]; err != nil {
		return 0, false, err
	}
	if j, ok := f.named[name]; ok && name != "" {
		return f.newHandle(&object{kind: kindJob, job: j}), true, nil
	}
	j := &job{}
	if name != "" {
		f.named[name] = j
	}
	return f.newHandle(&object{kind: kindJob, job: j}), false, nil
}

func (f *FakeSystem) OpenProcess(pid uint32) (jobobject.Handle, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["OpenProcess"]; err != nil {
		return 0, err
	}
	p, ok := f.processes[pid]
	if !ok && f.AutoSpawn && pid != 0 {
		p = &process{running: true}
		f.processes[pid] = p
	}
	if p == nil || !p.running {
		return 0, jobobject.ErrorInvalidParameter
	}
	return f.newHandle(&object{kind: kindProcess, pid: pid}), nil
}

func (f *FakeSystem) IsProcessInJob(h jobobject.Handle) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	obj, ok := f.handles[h]
	if !ok || obj.kind != kindProcess {
		return false, jobobject.ErrorInvalidHandle
	}
	return f.processes[obj.pid].job != nil, nil
}

func (f *FakeSystem) AssignProcessToJobObject(jh jobobject.Handle, ph jobobject.Handle) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["AssignProcessToJobObject"]; err != nil {
		return err
	}
	j, err := f.lookupJob(jh)
	if err != nil {
		return err
	}
	obj, ok := f.handles[ph]
	if !ok || obj.kind != kindProcess {
		return jobobject.ErrorInvalidHandle
	}
	f.processes[obj.pid].job = j
	j.members = append(j.members, obj.pid)
	j.total++
	f.post(j, jobobject.JobObjectMsgNewProcess, obj.pid)
	return nil
}

func (f *FakeSystem) CloseHandle(h jobobject.Handle) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.releases[h]++
	if _, ok := f.handles[h]; !ok {
		return jobobject.ErrorInvalidHandle
	}
	delete(f.handles, h)
	return nil
}

func (f *FakeSystem) SetInformationJobObject(jh jobobject.Handle, class jobobject.InfoClass, payload []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["SetInformationJobObject"]; err != nil {
		return err
	}
	j, err := f.lookupJob(jh)
	if err != nil {
		return err
	}
	switch class {
	case jobobject.JobObjectExtendedLimitInformation:
		info, err := jobobject.DecodeLimitInfo(payload)
		if err != nil || info.Flags.Has(jobobject.LimitJobTime|jobobject.LimitPreserveJobTime) {
			return jobobject.ErrorInvalidParameter
		}
		j.limit = append([]byte(nil), payload...)
		return nil
	case jobobject.JobObjectAssociateCompletionPortInformation:
		key, port, err := jobobject.DecodeCompletionPort(payload)
		if err != nil || j.associated {
			return jobobject.ErrorInvalidParameter
		}
		j.key, j.port, j.associated = key, port, true
		return nil
	}
	return jobobject.ErrorInvalidParameter
}

func (f *FakeSystem) QueryInformationJobObject(jh jobobject.Handle, class jobobject.InfoClass, buf []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["QueryInformationJobObject"]; err != nil {
		return 0, err
	}
	j, err := f.lookupJob(jh)
	if err != nil {
		return 0, err
	}
	switch class {
	case jobobject.JobObjectExtendedLimitInformation:
		limit := j.limit
		if limit == nil {
			limit = jobobject.EncodeLimitRequest(&jobobject.LimitRequest{})
		}
		return copy(buf, limit), nil
	case jobobject.JobObjectBasicAndIoAccountingInformation:
		return copy(buf, jobobject.EncodeAccounting(&jobobject.AccountingSnapshot{
			TotalProcesses:           j.total,
			ActiveProcesses:          uint32(f.active(j)),
			TotalTerminatedProcesses: j.terminated,
			IO:                       jobobject.IOCounters{ReadOperationCount: 3, WriteTransferCount: 4096},
		})), nil
	case jobobject.JobObjectBasicProcessIDList:
		var alive []uint32
		for _, pid := range j.members {
			if f.processes[pid].running {
				alive = append(alive, pid)
			}
		}
		if fit := jobobject.ProcessIDListCapacity(len(buf)); fit < len(alive) {
			return copy(buf, jobobject.EncodeProcessIDList(uint32(len(alive)), alive[:fit])), jobobject.ErrorMoreData
		}
		return copy(buf, jobobject.EncodeProcessIDList(uint32(len(alive)), alive)), nil
	}
	return 0, jobobject.ErrorInvalidParameter
}

func (f *FakeSystem) TerminateJobObject(jh jobobject.Handle, exitCode uint32) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["TerminateJobObject"]; err != nil {
		return err
	}
	j, err := f.lookupJob(jh)
	if err != nil {
		return err
	}
	hadActive := f.active(j) > 0
	j.exitCode = exitCode
	for _, pid := range j.members {
		if p := f.processes[pid]; p.running {
			p.running = false
			j.terminated++
			f.post(j, jobobject.JobObjectMsgExitProcess, pid)
		}
	}
	if hadActive {
		f.post(j, jobobject.JobObjectMsgActiveProcessZero, 0)
	}
	return nil
}

func (f *FakeSystem) CreateCompletionPort() (jobobject.Handle, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failures["CreateCompletionPort"]; err != nil {
		return 0, err
	}
	return f.newHandle(&object{kind: kindPort, port: make(chan jobobject.Notification, 256)}), nil
}

func (f *FakeSystem) ReceiveCompletion(port jobobject.Handle, timeout time.Duration) (jobobject.Notification, error) {
	f.mutex.Lock()
	obj, ok := f.handles[port]
	failure := f.failures["ReceiveCompletion"]
	f.mutex.Unlock()
	if failure != nil {
		return jobobject.Notification{}, failure
	}
	if !ok || obj.kind != kindPort {
		return jobobject.Notification{}, jobobject.ErrorInvalidHandle
	}
	select {
	case n := <-obj.port:
		return n, nil
	case <-time.After(timeout):
		return jobobject.Notification{}, jobobject.ErrNoNotification
	}
}

var _ jobobject.System = (*FakeSystem)(nil)
