package jobobject

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
)

// IOCounters holds cumulative I/O statistics
type IOCounters struct {
	ReadOperationCount  uint64 `json:"read_operation_count"`
	WriteOperationCount uint64 `json:"write_operation_count"`
	OtherOperationCount uint64 `json:"other_operation_count"`
	ReadTransferCount   uint64 `json:"read_transfer_count"`
	WriteTransferCount  uint64 `json:"write_transfer_count"`
	OtherTransferCount  uint64 `json:"other_transfer_count"`
}

// AccountingSnapshot is a point-in-time read of a group's accounting counters
type AccountingSnapshot struct {
	TotalUserTime             time.Duration `json:"total_user_time"`
	TotalKernelTime           time.Duration `json:"total_kernel_time"`
	ThisPeriodTotalUserTime   time.Duration `json:"this_period_total_user_time"`
	ThisPeriodTotalKernelTime time.Duration `json:"this_period_total_kernel_time"`
	TotalPageFaultCount       uint32        `json:"total_page_fault_count"`
	TotalProcesses            uint32        `json:"total_processes"`
	ActiveProcesses           uint32        `json:"active_processes"`
	TotalTerminatedProcesses  uint32        `json:"total_terminated_processes"`
	IO                        IOCounters    `json:"io"`
}

// LimitInfo is a point-in-time read of the limits in force and memory peaks
type LimitInfo struct {
	Flags                   LimitFlags    `json:"flags"`
	PerProcessUserTimeLimit time.Duration `json:"per_process_user_time_limit"`
	PerJobUserTimeLimit     time.Duration `json:"per_job_user_time_limit"`
	MinimumWorkingSetSize   uint64        `json:"minimum_working_set_size"`
	MaximumWorkingSetSize   uint64        `json:"maximum_working_set_size"`
	ActiveProcessLimit      uint32        `json:"active_process_limit"`
	Affinity                uint64        `json:"affinity"`
	PriorityClass           uint32        `json:"priority_class"`
	SchedulingClass         uint32        `json:"scheduling_class"`
	IO                      IOCounters    `json:"io"`
	ProcessMemoryLimit      uint64        `json:"process_memory_limit"`
	JobMemoryLimit          uint64        `json:"job_memory_limit"`
	PeakProcessMemoryUsed   uint64        `json:"peak_process_memory_used"`
	PeakJobMemoryUsed       uint64        `json:"peak_job_memory_used"`
}

func checkSize(record string, data []byte, expected int) error {
	if len(data) != expected {
		return errors.NewMalformedResponseError(
			fmt.Sprintf("%s record has %d bytes, expected %d", record, len(data), expected), nil).
			WithContext("expected", expected).
			WithContext("actual", len(data))
	}
	return nil
}

// DecodeAccounting decodes a basic-and-io accounting record
func DecodeAccounting(data []byte) (*AccountingSnapshot, error) {
	if err := checkSize("accounting", data, accountingSize); err != nil {
		return nil, err
	}
	rec := decodeAccountingRecord(data)
	return &AccountingSnapshot{
		TotalUserTime:             TicksToDuration(rec.TotalUserTime),
		TotalKernelTime:           TicksToDuration(rec.TotalKernelTime),
		ThisPeriodTotalUserTime:   TicksToDuration(rec.ThisPeriodTotalUserTime),
		ThisPeriodTotalKernelTime: TicksToDuration(rec.ThisPeriodTotalKernelTime),
		TotalPageFaultCount:       rec.TotalPageFaultCount,
		TotalProcesses:            rec.TotalProcesses,
		ActiveProcesses:           rec.ActiveProcesses,
		TotalTerminatedProcesses:  rec.TotalTerminatedProcesses,
		IO:                        rec.IO,
	}, nil
}

// EncodeAccounting is the inverse of DecodeAccounting
func EncodeAccounting(s *AccountingSnapshot) []byte {
	return encodeAccounting(&accountingRecord{
		TotalUserTime:             DurationToTicks(s.TotalUserTime),
		TotalKernelTime:           DurationToTicks(s.TotalKernelTime),
		ThisPeriodTotalUserTime:   DurationToTicks(s.ThisPeriodTotalUserTime),
		ThisPeriodTotalKernelTime: DurationToTicks(s.ThisPeriodTotalKernelTime),
		TotalPageFaultCount:       s.TotalPageFaultCount,
		TotalProcesses:            s.TotalProcesses,
		ActiveProcesses:           s.ActiveProcesses,
		TotalTerminatedProcesses:  s.TotalTerminatedProcesses,
		IO:                        s.IO,
	})
}

// DecodeLimitInfo decodes an extended limit record
func DecodeLimitInfo(data []byte) (*LimitInfo, error) {
	if err := checkSize("extended limit", data, extendedLimitSize); err != nil {
		return nil, err
	}
	rec := decodeExtendedLimit(data)
	return &LimitInfo{
		Flags:                   LimitFlags(rec.LimitFlags),
		PerProcessUserTimeLimit: TicksToDuration(rec.PerProcessUserTimeLimit),
		PerJobUserTimeLimit:     TicksToDuration(rec.PerJobUserTimeLimit),
		MinimumWorkingSetSize:   rec.MinimumWorkingSetSize,
		MaximumWorkingSetSize:   rec.MaximumWorkingSetSize,
		ActiveProcessLimit:      rec.ActiveProcessLimit,
		Affinity:                rec.Affinity,
		PriorityClass:           rec.PriorityClass,
		SchedulingClass:         rec.SchedulingClass,
		IO:                      rec.IO,
		ProcessMemoryLimit:      rec.ProcessMemoryLimit,
		JobMemoryLimit:          rec.JobMemoryLimit,
		PeakProcessMemoryUsed:   rec.PeakProcessMemoryUsed,
		PeakJobMemoryUsed:       rec.PeakJobMemoryUsed,
	}, nil
}
