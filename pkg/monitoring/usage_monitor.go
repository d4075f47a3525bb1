package monitoring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
)

const DefaultWarnRatio = 0.9

type UsageStatus string

const (
	UsageStatusUnknown   UsageStatus = "unknown"
	UsageStatusHealthy   UsageStatus = "healthy"
	UsageStatusDegraded  UsageStatus = "degraded"
	UsageStatusUnhealthy UsageStatus = "unhealthy"
)

// UsageMonitorConfig enables periodic usage reports; a zero interval
// disables the monitor.
type UsageMonitorConfig struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	// WarnRatio is the fraction of a limit at which usage is reported degraded
	WarnRatio float64 `yaml:"warn_ratio,omitempty"`
}

type UsageState struct {
	Status              UsageStatus
	LastCheck           time.Time
	Message             string
	ConsecutiveFailures int
	Accounting          *jobobject.AccountingSnapshot
	Limits              *jobobject.LimitInfo
}

// UsageSource is the part of a group the monitor reads
type UsageSource interface {
	ID() string
	AccountInfo() (*jobobject.AccountingSnapshot, error)
	LimitInfo() (*jobobject.LimitInfo, error)
}

// UsageStatusCallback is called on every status change
type UsageStatusCallback func(state UsageState)

type UsageMonitor interface {
	Start(ctx context.Context) error
	Stop()
	State() *UsageState
	SetStatusCallback(callback UsageStatusCallback)
}

type usageMonitor struct {
	config   UsageMonitorConfig
	source   UsageSource
	state    *UsageState
	callback UsageStatusCallback
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mutex    sync.Mutex
	logger   logging.Logger
}

func NewUsageMonitor(config UsageMonitorConfig, source UsageSource, logger logging.Logger) UsageMonitor {
	if config.WarnRatio == 0 {
		config.WarnRatio = DefaultWarnRatio
	}
	return &usageMonitor{
		config:   config,
		source:   source,
		state:    &UsageState{Status: UsageStatusUnknown},
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

// ValidateUsageMonitorConfig validates usage monitor configuration
func ValidateUsageMonitorConfig(config UsageMonitorConfig) error {
	if config.Interval < 0 {
		return errors.NewValidationError("usage monitor interval cannot be negative", nil)
	}
	if config.InitialDelay < 0 {
		return errors.NewValidationError("usage monitor initial delay cannot be negative", nil)
	}
	if config.WarnRatio < 0 || config.WarnRatio > 1 {
		return errors.NewValidationError(
			fmt.Sprintf("usage warn ratio must be between 0 and 1, got %v", config.WarnRatio), nil)
	}
	return nil
}

func (m *usageMonitor) Start(ctx context.Context) error {
	if err := ValidateUsageMonitorConfig(m.config); err != nil {
		return err
	}
	if m.config.Interval == 0 {
		m.logger.Debugf("Usage monitor is disabled, group: %s", m.source.ID())
		return nil
	}

	m.logger.Infof("Starting usage monitor, group: %s, interval: %v", m.source.ID(), m.config.Interval)
	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

func (m *usageMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

func (m *usageMonitor) State() *UsageState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	stateCopy := *m.state
	return &stateCopy
}

func (m *usageMonitor) SetStatusCallback(callback UsageStatusCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callback = callback
}

func (m *usageMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	if m.config.InitialDelay > 0 {
		select {
		case <-time.After(m.config.InitialDelay):
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.performCheck()
	for {
		select {
		case <-ticker.C:
			m.performCheck()
		case <-m.stopChan:
			m.logger.Debugf("Usage monitor stopping, group: %s", m.source.ID())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *usageMonitor) performCheck() {
	accounting, err := m.source.AccountInfo()
	if err != nil {
		m.updateState(nil, nil, fmt.Sprintf("failed to read accounting: %v", err))
		return
	}
	limits, err := m.source.LimitInfo()
	if err != nil {
		m.updateState(nil, nil, fmt.Sprintf("failed to read limits: %v", err))
		return
	}

	m.logger.Infof("Usage, group: %s, active: %d, total: %d, terminated: %d, user time: %v, kernel time: %v, peak job memory: %d",
		m.source.ID(), accounting.ActiveProcesses, accounting.TotalProcesses, accounting.TotalTerminatedProcesses,
		accounting.TotalUserTime, accounting.TotalKernelTime, limits.PeakJobMemoryUsed)

	m.updateState(accounting, limits, "")
}

// Pressure lists the limits whose usage reached ratio of the configured value
func Pressure(accounting *jobobject.AccountingSnapshot, limits *jobobject.LimitInfo, ratio float64) []string {
	var pressure []string
	if limits.Flags.Has(jobobject.LimitJobMemory) && limits.JobMemoryLimit > 0 &&
		float64(limits.PeakJobMemoryUsed) >= ratio*float64(limits.JobMemoryLimit) {
		pressure = append(pressure, fmt.Sprintf("job memory %d of %d", limits.PeakJobMemoryUsed, limits.JobMemoryLimit))
	}
	if limits.Flags.Has(jobobject.LimitProcessMemory) && limits.ProcessMemoryLimit > 0 &&
		float64(limits.PeakProcessMemoryUsed) >= ratio*float64(limits.ProcessMemoryLimit) {
		pressure = append(pressure, fmt.Sprintf("process memory %d of %d", limits.PeakProcessMemoryUsed, limits.ProcessMemoryLimit))
	}
	if limits.Flags.Has(jobobject.LimitActiveProcess) && limits.ActiveProcessLimit > 0 &&
		float64(accounting.ActiveProcesses) >= ratio*float64(limits.ActiveProcessLimit) {
		pressure = append(pressure, fmt.Sprintf("active processes %d of %d", accounting.ActiveProcesses, limits.ActiveProcessLimit))
	}
	if limits.Flags.Has(jobobject.LimitJobTime) && limits.PerJobUserTimeLimit > 0 &&
		float64(accounting.ThisPeriodTotalUserTime) >= ratio*float64(limits.PerJobUserTimeLimit) {
		pressure = append(pressure, fmt.Sprintf("job user time %v of %v", accounting.ThisPeriodTotalUserTime, limits.PerJobUserTimeLimit))
	}
	return pressure
}

func (m *usageMonitor) updateState(accounting *jobobject.AccountingSnapshot, limits *jobobject.LimitInfo, failure string) {
	m.mutex.Lock()
	previous := m.state.Status
	m.state.LastCheck = time.Now()

	var status UsageStatus
	switch {
	case failure != "":
		m.state.ConsecutiveFailures++
		m.state.Message = failure
		status = UsageStatusDegraded
		if m.state.ConsecutiveFailures > 1 {
			status = UsageStatusUnhealthy
		}
	default:
		m.state.ConsecutiveFailures = 0
		m.state.Accounting = accounting
		m.state.Limits = limits
		status = UsageStatusHealthy
		m.state.Message = ""
		if pressure := Pressure(accounting, limits, m.config.WarnRatio); len(pressure) > 0 {
			status = UsageStatusDegraded
			m.state.Message = "near limit: " + strings.Join(pressure, ", ")
		}
	}
	m.state.Status = status

	var callback UsageStatusCallback
	if status != previous {
		callback = m.callback
		if status == UsageStatusHealthy {
			m.logger.Infof("Usage status changed, group: %s, status: %s->%s", m.source.ID(), previous, status)
		} else {
			m.logger.Warnf("Usage status changed, group: %s, status: %s->%s, message: %s",
				m.source.ID(), previous, status, m.state.Message)
		}
	}
	stateCopy := *m.state
	m.mutex.Unlock()

	if callback != nil {
		callback(stateCopy)
	}
}
