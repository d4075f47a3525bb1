package jobobject

import (
	"encoding/binary"
	"unsafe"
)

// Records are laid out exactly as the OS structures on the running
// architecture: little-endian, natural alignment, pointer-sized SIZE_T and
// ULONG_PTR fields.
const wordSize = int(unsafe.Sizeof(uintptr(0)))

var (
	extendedLimitSize    = len(encodeExtendedLimit(&extendedLimitRecord{}))
	accountingSize       = len(encodeAccounting(&accountingRecord{}))
	processIDListHeader  = alignUp(8, wordSize)
	completionPortRecord = 2 * wordSize
)

type extendedLimitRecord struct {
	PerProcessUserTimeLimit int64
	PerJobUserTimeLimit     int64
	LimitFlags              uint32
	MinimumWorkingSetSize   uint64
	MaximumWorkingSetSize   uint64
	ActiveProcessLimit      uint32
	Affinity                uint64
	PriorityClass           uint32
	SchedulingClass         uint32
	IO                      IOCounters
	ProcessMemoryLimit      uint64
	JobMemoryLimit          uint64
	PeakProcessMemoryUsed   uint64
	PeakJobMemoryUsed       uint64
}

type accountingRecord struct {
	TotalUserTime             int64
	TotalKernelTime           int64
	ThisPeriodTotalUserTime   int64
	ThisPeriodTotalKernelTime int64
	TotalPageFaultCount       uint32
	TotalProcesses            uint32
	ActiveProcesses           uint32
	TotalTerminatedProcesses  uint32
	IO                        IOCounters
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

type recordWriter struct {
	buf []byte
}

func (w *recordWriter) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *recordWriter) uint32(v uint32) {
	w.align(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *recordWriter) uint64(v uint64) {
	w.align(8)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *recordWriter) word(v uint64) {
	w.align(wordSize)
	if wordSize == 8 {
		w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	} else {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	}
}

func (w *recordWriter) ioCounters(io IOCounters) {
	w.uint64(io.ReadOperationCount)
	w.uint64(io.WriteOperationCount)
	w.uint64(io.OtherOperationCount)
	w.uint64(io.ReadTransferCount)
	w.uint64(io.WriteTransferCount)
	w.uint64(io.OtherTransferCount)
}

// bytes pads the record to its 8-byte structure alignment
func (w *recordWriter) bytes() []byte {
	w.align(8)
	return w.buf
}

type recordReader struct {
	buf []byte
	off int
}

func (r *recordReader) align(n int) {
	r.off = alignUp(r.off, n)
}

func (r *recordReader) uint32() uint32 {
	r.align(4)
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *recordReader) uint64() uint64 {
	r.align(8)
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *recordReader) word() uint64 {
	r.align(wordSize)
	var v uint64
	if wordSize == 8 {
		v = binary.LittleEndian.Uint64(r.buf[r.off:])
	} else {
		v = uint64(binary.LittleEndian.Uint32(r.buf[r.off:]))
	}
	r.off += wordSize
	return v
}

func (r *recordReader) ioCounters() IOCounters {
	return IOCounters{
		ReadOperationCount:  r.uint64(),
		WriteOperationCount: r.uint64(),
		OtherOperationCount: r.uint64(),
		ReadTransferCount:   r.uint64(),
		WriteTransferCount:  r.uint64(),
		OtherTransferCount:  r.uint64(),
	}
}

func encodeExtendedLimit(rec *extendedLimitRecord) []byte {
	w := &recordWriter{}
	w.uint64(uint64(rec.PerProcessUserTimeLimit))
	w.uint64(uint64(rec.PerJobUserTimeLimit))
	w.uint32(rec.LimitFlags)
	w.word(rec.MinimumWorkingSetSize)
	w.word(rec.MaximumWorkingSetSize)
	w.uint32(rec.ActiveProcessLimit)
	w.word(rec.Affinity)
	w.uint32(rec.PriorityClass)
	w.uint32(rec.SchedulingClass)
	w.align(8)
	w.ioCounters(rec.IO)
	w.word(rec.ProcessMemoryLimit)
	w.word(rec.JobMemoryLimit)
	w.word(rec.PeakProcessMemoryUsed)
	w.word(rec.PeakJobMemoryUsed)
	return w.bytes()
}

func decodeExtendedLimit(data []byte) *extendedLimitRecord {
	r := &recordReader{buf: data}
	rec := &extendedLimitRecord{}
	rec.PerProcessUserTimeLimit = int64(r.uint64())
	rec.PerJobUserTimeLimit = int64(r.uint64())
	rec.LimitFlags = r.uint32()
	rec.MinimumWorkingSetSize = r.word()
	rec.MaximumWorkingSetSize = r.word()
	rec.ActiveProcessLimit = r.uint32()
	rec.Affinity = r.word()
	rec.PriorityClass = r.uint32()
	rec.SchedulingClass = r.uint32()
	r.align(8)
	rec.IO = r.ioCounters()
	rec.ProcessMemoryLimit = r.word()
	rec.JobMemoryLimit = r.word()
	rec.PeakProcessMemoryUsed = r.word()
	rec.PeakJobMemoryUsed = r.word()
	return rec
}

func encodeAccounting(rec *accountingRecord) []byte {
	w := &recordWriter{}
	w.uint64(uint64(rec.TotalUserTime))
	w.uint64(uint64(rec.TotalKernelTime))
	w.uint64(uint64(rec.ThisPeriodTotalUserTime))
	w.uint64(uint64(rec.ThisPeriodTotalKernelTime))
	w.uint32(rec.TotalPageFaultCount)
	w.uint32(rec.TotalProcesses)
	w.uint32(rec.ActiveProcesses)
	w.uint32(rec.TotalTerminatedProcesses)
	w.ioCounters(rec.IO)
	return w.bytes()
}

func decodeAccountingRecord(data []byte) *accountingRecord {
	r := &recordReader{buf: data}
	return &accountingRecord{
		TotalUserTime:             int64(r.uint64()),
		TotalKernelTime:           int64(r.uint64()),
		ThisPeriodTotalUserTime:   int64(r.uint64()),
		ThisPeriodTotalKernelTime: int64(r.uint64()),
		TotalPageFaultCount:       r.uint32(),
		TotalProcesses:            r.uint32(),
		ActiveProcesses:           r.uint32(),
		TotalTerminatedProcesses:  r.uint32(),
		IO:                        r.ioCounters(),
	}
}

// EncodeProcessIDList builds a process id list record in the layout the OS
// returns: assigned is the total, pids the entries that fit.
func EncodeProcessIDList(assigned uint32, pids []uint32) []byte {
	w := &recordWriter{}
	w.uint32(assigned)
	w.uint32(uint32(len(pids)))
	w.align(wordSize)
	for _, pid := range pids {
		w.word(uint64(pid))
	}
	return w.buf
}

// decodeProcessIDList returns the assigned count and the listed entries.
// The caller has checked that data holds at least the header.
func decodeProcessIDList(data []byte) (assigned uint32, listed []uint64, complete bool) {
	r := &recordReader{buf: data}
	assigned = r.uint32()
	count := int(r.uint32())
	r.align(wordSize)
	available := (len(data) - r.off) / wordSize
	complete = available >= count
	if count > available {
		count = available
	}
	listed = make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		listed = append(listed, r.word())
	}
	return assigned, listed, complete
}

func processIDListSize(capacity int) int {
	return processIDListHeader + capacity*wordSize
}

// ProcessIDListCapacity returns how many entries a buffer of size bytes holds
func ProcessIDListCapacity(size int) int {
	if size < processIDListHeader {
		return 0
	}
	return (size - processIDListHeader) / wordSize
}

func encodeCompletionPort(key uintptr, port Handle) []byte {
	w := &recordWriter{}
	w.word(uint64(key))
	w.word(uint64(port))
	return w.buf
}

// DecodeCompletionPort decodes a completion port association record
func DecodeCompletionPort(data []byte) (uintptr, Handle, error) {
	if err := checkSize("completion port", data, completionPortRecord); err != nil {
		return 0, 0, err
	}
	r := &recordReader{buf: data}
	key := uintptr(r.word())
	port := Handle(r.word())
	return key, port, nil
}

// EncodeLimitRequest lowers a LimitRequest into the extended limit record
// accepted by SetInformationJobObject. Fields whose flag is clear are zero.
func EncodeLimitRequest(req *LimitRequest) []byte {
	rec := &extendedLimitRecord{LimitFlags: uint32(req.Flags())}
	if req.PerProcessUserTimeLimit != nil {
		rec.PerProcessUserTimeLimit = *req.PerProcessUserTimeLimit
	}
	if req.PerJobUserTimeLimit != nil {
		rec.PerJobUserTimeLimit = *req.PerJobUserTimeLimit
	}
	if req.MinimumWorkingSetSize != nil {
		rec.MinimumWorkingSetSize = *req.MinimumWorkingSetSize
	}
	if req.MaximumWorkingSetSize != nil {
		rec.MaximumWorkingSetSize = *req.MaximumWorkingSetSize
	}
	if req.ActiveProcessLimit != nil {
		rec.ActiveProcessLimit = *req.ActiveProcessLimit
	}
	if req.Affinity != nil {
		rec.Affinity = *req.Affinity
	}
	if req.PriorityClass != nil {
		rec.PriorityClass = *req.PriorityClass
	}
	if req.SchedulingClass != nil {
		rec.SchedulingClass = *req.SchedulingClass
	}
	if req.ProcessMemoryLimit != nil {
		rec.ProcessMemoryLimit = *req.ProcessMemoryLimit
	}
	if req.JobMemoryLimit != nil {
		rec.JobMemoryLimit = *req.JobMemoryLimit
	}
	return encodeExtendedLimit(rec)
}
