package jobobject

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
)

// LimitFlags is the LimitFlags bitmask of the basic limit record
type LimitFlags uint32

const (
	LimitWorkingSet              LimitFlags = 0x00000001
	LimitProcessTime             LimitFlags = 0x00000002
	LimitJobTime                 LimitFlags = 0x00000004
	LimitActiveProcess           LimitFlags = 0x00000008
	LimitAffinity                LimitFlags = 0x00000010
	LimitPriorityClass           LimitFlags = 0x00000020
	LimitPreserveJobTime         LimitFlags = 0x00000040
	LimitSchedulingClass         LimitFlags = 0x00000080
	LimitProcessMemory           LimitFlags = 0x00000100
	LimitJobMemory               LimitFlags = 0x00000200
	LimitDieOnUnhandledException LimitFlags = 0x00000400
	LimitBreakawayOK             LimitFlags = 0x00000800
	LimitSilentBreakawayOK       LimitFlags = 0x00001000
	LimitKillOnJobClose          LimitFlags = 0x00002000
	LimitSubsetAffinity          LimitFlags = 0x00004000
)

var flagNames = []struct {
	flag LimitFlags
	name string
}{
	{LimitWorkingSet, "workingset"},
	{LimitProcessTime, "process_time"},
	{LimitJobTime, "job_time"},
	{LimitActiveProcess, "active_process"},
	{LimitAffinity, "affinity"},
	{LimitPriorityClass, "priority_class"},
	{LimitPreserveJobTime, "preserve_job_time"},
	{LimitSchedulingClass, "scheduling_class"},
	{LimitProcessMemory, "process_memory"},
	{LimitJobMemory, "job_memory"},
	{LimitDieOnUnhandledException, "die_on_unhandled_exception"},
	{LimitBreakawayOK, "breakaway_ok"},
	{LimitSilentBreakawayOK, "silent_breakaway_ok"},
	{LimitKillOnJobClose, "kill_on_job_close"},
	{LimitSubsetAffinity, "subset_affinity"},
}

// Has reports whether every bit of other is set
func (f LimitFlags) Has(other LimitFlags) bool {
	return f&other == other
}

func (f LimitFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Process priority classes
const (
	IdlePriorityClass        uint32 = 0x00000040
	BelowNormalPriorityClass uint32 = 0x00004000
	NormalPriorityClass      uint32 = 0x00000020
	AboveNormalPriorityClass uint32 = 0x00008000
	HighPriorityClass        uint32 = 0x00000080
	RealtimePriorityClass    uint32 = 0x00000100
)

var priorityClassNames = map[string]uint32{
	"idle":         IdlePriorityClass,
	"below_normal": BelowNormalPriorityClass,
	"normal":       NormalPriorityClass,
	"above_normal": AboveNormalPriorityClass,
	"high":         HighPriorityClass,
	"realtime":     RealtimePriorityClass,
}

// MaxSchedulingClass is the highest scheduling class the OS accepts
const MaxSchedulingClass = 9

// LimitRequest is a typed limit record. A nil field or a false boolean means
// the category is not requested; Flags derives the bitmask from the fields.
type LimitRequest struct {
	ActiveProcessLimit      *uint32
	Affinity                *uint64
	MinimumWorkingSetSize   *uint64
	MaximumWorkingSetSize   *uint64
	ProcessMemoryLimit      *uint64
	JobMemoryLimit          *uint64
	PerProcessUserTimeLimit *int64 // 100ns ticks
	PerJobUserTimeLimit     *int64 // 100ns ticks
	PriorityClass           *uint32
	SchedulingClass         *uint32

	BreakawayOK             bool
	SilentBreakawayOK       bool
	KillOnJobClose          bool
	DieOnUnhandledException bool
	PreserveJobTime         bool
	SubsetAffinity          bool
}

// Flags returns the bitmask enabling exactly the requested categories
func (r *LimitRequest) Flags() LimitFlags {
	var f LimitFlags
	if r.MinimumWorkingSetSize != nil || r.MaximumWorkingSetSize != nil {
		f |= LimitWorkingSet
	}
	if r.PerProcessUserTimeLimit != nil {
		f |= LimitProcessTime
	}
	if r.PerJobUserTimeLimit != nil {
		f |= LimitJobTime
	}
	if r.ActiveProcessLimit != nil {
		f |= LimitActiveProcess
	}
	if r.Affinity != nil {
		f |= LimitAffinity
	}
	if r.PriorityClass != nil {
		f |= LimitPriorityClass
	}
	if r.PreserveJobTime {
		f |= LimitPreserveJobTime
	}
	if r.SchedulingClass != nil {
		f |= LimitSchedulingClass
	}
	if r.ProcessMemoryLimit != nil {
		f |= LimitProcessMemory
	}
	if r.JobMemoryLimit != nil {
		f |= LimitJobMemory
	}
	if r.DieOnUnhandledException {
		f |= LimitDieOnUnhandledException
	}
	if r.BreakawayOK {
		f |= LimitBreakawayOK
	}
	if r.SilentBreakawayOK {
		f |= LimitSilentBreakawayOK
	}
	if r.KillOnJobClose {
		f |= LimitKillOnJobClose
	}
	if r.SubsetAffinity {
		f |= LimitSubsetAffinity | LimitAffinity
	}
	return f
}

// Options maps limit option names to values, as read from configuration
type Options map[string]interface{}

type optionSetter func(r *LimitRequest, name string, value interface{}) error

var optionTable = map[string]optionSetter{
	"active_process": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint32(name, value)
		r.ActiveProcessLimit = &v
		return err
	},
	"affinity": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint64(name, value)
		r.Affinity = &v
		return err
	},
	"breakaway_ok": boolSetter(func(r *LimitRequest) *bool { return &r.BreakawayOK }),
	"die_on_unhandled_exception": boolSetter(func(r *LimitRequest) *bool {
		return &r.DieOnUnhandledException
	}),
	"job_memory": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint64(name, value)
		r.JobMemoryLimit = &v
		return err
	},
	"job_time": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toTicks(name, value)
		r.PerJobUserTimeLimit = &v
		return err
	},
	"kill_on_job_close": boolSetter(func(r *LimitRequest) *bool { return &r.KillOnJobClose }),
	"minimum_working_set_size": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint64(name, value)
		r.MinimumWorkingSetSize = &v
		return err
	},
	"maximum_working_set_size": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint64(name, value)
		r.MaximumWorkingSetSize = &v
		return err
	},
	"preserve_job_time": boolSetter(func(r *LimitRequest) *bool { return &r.PreserveJobTime }),
	"priority_class": func(r *LimitRequest, name string, value interface{}) error {
		if s, ok := value.(string); ok {
			if class, known := priorityClassNames[strings.ToLower(strings.TrimSpace(s))]; known {
				r.PriorityClass = &class
				return nil
			}
		}
		v, err := toUint32(name, value)
		r.PriorityClass = &v
		return err
	},
	"process_memory": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint64(name, value)
		r.ProcessMemoryLimit = &v
		return err
	},
	"process_time": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toTicks(name, value)
		r.PerProcessUserTimeLimit = &v
		return err
	},
	"scheduling_class": func(r *LimitRequest, name string, value interface{}) error {
		v, err := toUint32(name, value)
		if err == nil && v > MaxSchedulingClass {
			err = errors.NewInvalidArgumentError(
				fmt.Sprintf("option '%s' must be between 0 and %d", name, MaxSchedulingClass), nil).
				WithContext(errors.ContextKeyOption, name)
		}
		r.SchedulingClass = &v
		return err
	},
	"silent_breakaway_ok": boolSetter(func(r *LimitRequest) *bool { return &r.SilentBreakawayOK }),
	"subset_affinity":     boolSetter(func(r *LimitRequest) *bool { return &r.SubsetAffinity }),
}

// ValidOptions returns the recognized option names, sorted
func ValidOptions() []string {
	names := make([]string, 0, len(optionTable))
	for name := range optionTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type optionKey struct {
	name     string
	original string
}

// Build translates named limit options into a LimitRequest. Keys are matched
// case-insensitively and checked in sorted order; the first unknown key fails
// the whole build and is reported as given. Two keys naming the same option
// are rejected. Build does not touch any group.
func Build(opts Options) (*LimitRequest, error) {
	keys := make([]optionKey, 0, len(opts))
	for key := range opts {
		keys = append(keys, optionKey{name: strings.ToLower(strings.TrimSpace(key)), original: key})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].original < keys[j].original
	})

	for _, key := range keys {
		if _, ok := optionTable[key.name]; !ok {
			return nil, errors.NewInvalidOptionError(key.original)
		}
	}
	for i := 1; i < len(keys); i++ {
		if keys[i].name == keys[i-1].name {
			return nil, errors.NewInvalidArgumentError(
				fmt.Sprintf("option '%s' given more than once, as '%s' and '%s'",
					keys[i].name, keys[i-1].original, keys[i].original), nil).
				WithContext(errors.ContextKeyOption, keys[i].original)
		}
	}

	request := &LimitRequest{}
	for _, key := range keys {
		if err := optionTable[key.name](request, key.original, opts[key.original]); err != nil {
			return nil, err
		}
	}
	return request, nil
}

func boolSetter(field func(r *LimitRequest) *bool) optionSetter {
	return func(r *LimitRequest, name string, value interface{}) error {
		b, ok := value.(bool)
		if !ok {
			return invalidValue(name, value, "a boolean")
		}
		*field(r) = b
		return nil
	}
}

func invalidValue(name string, value interface{}, want string) error {
	return errors.NewInvalidArgumentError(
		fmt.Sprintf("option '%s' must be %s, got %T(%v)", name, want, value, value), nil).
		WithContext(errors.ContextKeyOption, name)
}

func toUint64(name string, value interface{}) (uint64, error) {
	switch v := value.(type) {
	case int:
		if v >= 0 {
			return uint64(v), nil
		}
	case int8:
		if v >= 0 {
			return uint64(v), nil
		}
	case int16:
		if v >= 0 {
			return uint64(v), nil
		}
	case int32:
		if v >= 0 {
			return uint64(v), nil
		}
	case int64:
		if v >= 0 {
			return uint64(v), nil
		}
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case uintptr:
		return uint64(v), nil
	case float64:
		if v >= 0 && v < math.MaxUint64 && v == math.Trunc(v) {
			return uint64(v), nil
		}
	case string:
		if parsed, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64); err == nil {
			return parsed, nil
		}
	}
	return 0, invalidValue(name, value, "a non-negative integer")
}

func toUint32(name string, value interface{}) (uint32, error) {
	v, err := toUint64(name, value)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, invalidValue(name, value, "a 32-bit unsigned integer")
	}
	return uint32(v), nil
}

// toTicks converts a CPU time option to 100ns ticks. Durations are converted,
// bare numbers are taken as ticks already.
func toTicks(name string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case time.Duration:
		if v >= 0 {
			return DurationToTicks(v), nil
		}
		return 0, invalidValue(name, value, "a non-negative duration")
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d >= 0 {
			return DurationToTicks(d), nil
		}
	}
	ticks, err := toUint64(name, value)
	if err != nil {
		return 0, err
	}
	if ticks > math.MaxInt64 {
		return 0, invalidValue(name, value, "a 64-bit signed integer")
	}
	return int64(ticks), nil
}

// DurationToTicks converts a duration to 100ns ticks
func DurationToTicks(d time.Duration) int64 {
	return int64(d / 100)
}

// TicksToDuration converts 100ns ticks to a duration
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * 100
}
