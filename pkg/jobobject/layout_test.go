package jobobject

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 96, accountingSize)
	assert.Equal(t, 2*wordSize, completionPortRecord)

	switch wordSize {
	case 8:
		assert.Equal(t, 144, extendedLimitSize)
		assert.Equal(t, 8, processIDListHeader)
	case 4:
		assert.Equal(t, 112, extendedLimitSize)
		assert.Equal(t, 8, processIDListHeader)
	default:
		t.Fatalf("unexpected word size %d", wordSize)
	}
}

func TestExtendedLimitFieldOffsets(t *testing.T) {
	if wordSize != 8 {
		t.Skip("offsets below are for 64-bit records")
	}

	data := encodeExtendedLimit(&extendedLimitRecord{
		PerProcessUserTimeLimit: 1,
		PerJobUserTimeLimit:     2,
		LimitFlags:              uint32(LimitKillOnJobClose),
		MaximumWorkingSetSize:   4,
		ActiveProcessLimit:      5,
		Affinity:                6,
		PriorityClass:           7,
		SchedulingClass:         8,
		ProcessMemoryLimit:      9,
		JobMemoryLimit:          10,
		PeakJobMemoryUsed:       11,
	})

	le := binary.LittleEndian
	assert.Equal(t, uint64(1), le.Uint64(data[0:]))
	assert.Equal(t, uint64(2), le.Uint64(data[8:]))
	assert.Equal(t, uint32(LimitKillOnJobClose), le.Uint32(data[16:]))
	assert.Equal(t, uint64(4), le.Uint64(data[32:]))
	assert.Equal(t, uint32(5), le.Uint32(data[40:]))
	assert.Equal(t, uint64(6), le.Uint64(data[48:]))
	assert.Equal(t, uint32(7), le.Uint32(data[56:]))
	assert.Equal(t, uint32(8), le.Uint32(data[60:]))
	assert.Equal(t, uint64(9), le.Uint64(data[112:]))
	assert.Equal(t, uint64(10), le.Uint64(data[120:]))
	assert.Equal(t, uint64(11), le.Uint64(data[136:]))
}

func TestEncodeLimitRequestRoundTrip(t *testing.T) {
	req, err := Build(Options{
		"kill_on_job_close": true,
		"job_memory":        1 << 30,
		"active_process":    3,
		"scheduling_class":  2,
	})
	require.NoError(t, err)

	info, err := DecodeLimitInfo(EncodeLimitRequest(req))
	require.NoError(t, err)

	assert.Equal(t, LimitKillOnJobClose|LimitJobMemory|LimitActiveProcess|LimitSchedulingClass, info.Flags)
	assert.Equal(t, uint64(1<<30), info.JobMemoryLimit)
	assert.Equal(t, uint32(3), info.ActiveProcessLimit)
	assert.Equal(t, uint32(2), info.SchedulingClass)
	assert.Zero(t, info.ProcessMemoryLimit)
}

func TestDecodeAccounting(t *testing.T) {
	data := encodeAccounting(&accountingRecord{
		TotalUserTime:            DurationToTicks(1500000000),
		TotalPageFaultCount:      12,
		TotalProcesses:           3,
		ActiveProcesses:          2,
		TotalTerminatedProcesses: 1,
		IO:                       IOCounters{WriteOperationCount: 9},
	})

	snapshot, err := DecodeAccounting(data)
	require.NoError(t, err)
	assert.Equal(t, "1.5s", snapshot.TotalUserTime.String())
	assert.Equal(t, uint32(12), snapshot.TotalPageFaultCount)
	assert.Equal(t, uint32(3), snapshot.TotalProcesses)
	assert.Equal(t, uint32(2), snapshot.ActiveProcesses)
	assert.Equal(t, uint32(1), snapshot.TotalTerminatedProcesses)
	assert.Equal(t, uint64(9), snapshot.IO.WriteOperationCount)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := DecodeAccounting(make([]byte, accountingSize-8))
	require.Error(t, err)
	assert.True(t, errors.IsMalformedResponseError(err))

	_, err = DecodeLimitInfo(make([]byte, extendedLimitSize+8))
	require.Error(t, err)
	assert.True(t, errors.IsMalformedResponseError(err))
}

func TestProcessIDList(t *testing.T) {
	data := EncodeProcessIDList(3, []uint32{10, 20, 30})
	assert.Len(t, data, processIDListSize(3))

	assigned, listed, complete := decodeProcessIDList(data)
	assert.Equal(t, uint32(3), assigned)
	assert.Equal(t, []uint64{10, 20, 30}, listed)
	assert.True(t, complete)

	// header claims more entries than the buffer holds
	truncated := data[:processIDListSize(2)]
	_, listed, complete = decodeProcessIDList(truncated)
	assert.Equal(t, []uint64{10, 20}, listed)
	assert.False(t, complete)
}

func TestCompletionPortRecord(t *testing.T) {
	data := encodeCompletionPort(0x40, Handle(0x80))
	require.Len(t, data, completionPortRecord)

	key, port, err := DecodeCompletionPort(data)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x40), key)
	assert.Equal(t, Handle(0x80), port)

	_, _, err = DecodeCompletionPort(data[:wordSize])
	require.Error(t, err)
	assert.True(t, errors.IsMalformedResponseError(err))
}

func TestProcessIDListCapacity(t *testing.T) {
	assert.Equal(t, 0, ProcessIDListCapacity(0))
	assert.Equal(t, 0, ProcessIDListCapacity(processIDListHeader))
	assert.Equal(t, 5, ProcessIDListCapacity(processIDListSize(5)))
	assert.Equal(t, 5, ProcessIDListCapacity(processIDListSize(5)+1))
}

func TestEncodeAccountingRoundTrip(t *testing.T) {
	in := &AccountingSnapshot{
		TotalKernelTime:          3 * time.Second,
		TotalProcesses:           4,
		ActiveProcesses:          1,
		TotalTerminatedProcesses: 2,
		IO:                       IOCounters{OtherTransferCount: 77},
	}

	out, err := DecodeAccounting(EncodeAccounting(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
