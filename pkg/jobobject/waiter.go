package jobobject

import (
	"context"
	stdErrors "errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
)

// WaiterState is the state of a DrainWaiter
type WaiterState int32

const (
	WaiterWaiting WaiterState = iota
	WaiterSignaled
)

func (s WaiterState) String() string {
	switch s {
	case WaiterWaiting:
		return "waiting"
	case WaiterSignaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// DefaultPollInterval bounds each blocking receive so that a closed group or
// a cancelled context is noticed. It is never surfaced as a timeout.
const DefaultPollInterval = 250 * time.Millisecond

// DrainWaiter waits for the "active process count reached zero" message of a
// group. A group accepts one completion port association for its lifetime.
type DrainWaiter struct {
	group        *Group
	pollInterval time.Duration
	state        atomic.Int32

	mutex sync.Mutex
	port  Handle
	armed bool
	done  bool
}

// NewDrainWaiter creates a waiter for g. A non-positive pollInterval selects
// DefaultPollInterval.
func NewDrainWaiter(g *Group, pollInterval time.Duration) *DrainWaiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &DrainWaiter{
		group:        g,
		pollInterval: pollInterval,
	}
}

// State returns the current waiter state
func (w *DrainWaiter) State() WaiterState {
	return WaiterState(w.state.Load())
}

// Arm creates the completion port and associates it with the group. Arming
// before admitting processes guarantees the drain message cannot be missed.
// Wait arms implicitly.
func (w *DrainWaiter) Arm() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.armed {
		return nil
	}
	if w.done {
		return errors.NewOSResourceError("CreateIoCompletionPort", ErrorInvalidHandle).WithContext("group_id", w.group.id)
	}

	g := w.group
	if err := g.checkOpen("CreateIoCompletionPort"); err != nil {
		return err
	}

	port, err := g.sys.CreateCompletionPort()
	if err != nil {
		g.logger.Errorf("Failed to create completion port, group: %s, error: %v", g.id, err)
		return errors.NewOSResourceError("CreateIoCompletionPort", err).WithContext("group_id", g.id)
	}

	payload := encodeCompletionPort(g.key(), port)
	if err := g.sys.SetInformationJobObject(g.handle, JobObjectAssociateCompletionPortInformation, payload); err != nil {
		g.logger.Errorf("Failed to associate completion port, group: %s, error: %v", g.id, err)
		if closeErr := g.sys.CloseHandle(port); closeErr != nil {
			g.logger.Warnf("Failed to release completion port, group: %s, error: %v", g.id, closeErr)
		}
		return errors.NewOSResourceError("SetInformationJobObject", err).
			WithContext("group_id", g.id).
			WithContext("class", uint32(JobObjectAssociateCompletionPortInformation))
	}

	w.port = port
	w.armed = true
	g.logger.Debugf("Associated completion port, group: %s", g.id)
	return nil
}

// Wait blocks until the group drains, the group is closed, or the OS reports
// a failure. Notifications for other keys or other messages are ignored.
func (w *DrainWaiter) Wait() error {
	return w.wait(nil)
}

// WaitContext is Wait with cancellation between bounded receives
func (w *DrainWaiter) WaitContext(ctx context.Context) error {
	if ctx == nil {
		return errors.NewInvalidArgumentError("context cannot be nil", nil)
	}
	return w.wait(ctx.Done())
}

// Close releases the completion port. It is idempotent.
func (w *DrainWaiter) Close() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.done = true
	if !w.armed {
		return
	}
	w.armed = false
	if err := w.group.sys.CloseHandle(w.port); err != nil {
		w.group.logger.Warnf("Failed to release completion port, group: %s, error: %v", w.group.id, err)
	}
}

func (w *DrainWaiter) matches(n Notification) bool {
	return n.Key == w.group.key() && n.Code == JobObjectMsgActiveProcessZero
}

func (w *DrainWaiter) wait(cancel <-chan struct{}) error {
	if err := w.Arm(); err != nil {
		return err
	}
	defer w.Close()

	g := w.group
	g.logger.Debugf("Waiting for group to drain, group: %s", g.id)

	for {
		select {
		case <-cancel:
			return errors.NewCancelledError("wait for drain cancelled", nil).WithContext("group_id", g.id)
		default:
		}

		if g.closed.Load() {
			return errors.NewOSResourceError("GetQueuedCompletionStatus", ErrorAbandonedWait).WithContext("group_id", g.id)
		}

		n, err := g.sys.ReceiveCompletion(w.port, w.pollInterval)
		if stdErrors.Is(err, ErrNoNotification) {
			runtime.Gosched()
			continue
		}
		if err != nil {
			g.logger.Errorf("Completion receive failed, group: %s, error: %v", g.id, err)
			return errors.NewOSResourceError("GetQueuedCompletionStatus", err).WithContext("group_id", g.id)
		}

		if !w.matches(n) {
			g.logger.Debugf("Ignoring notification, group: %s, key: %d, code: %d, pid: %d", g.id, n.Key, n.Code, n.ProcessID)
			continue
		}

		w.state.Store(int32(WaiterSignaled))
		g.logger.Infof("Group drained, group: %s", g.id)
		return nil
	}
}

// WaitForDrain blocks until the last active process of the group exits
func (g *Group) WaitForDrain() error {
	return NewDrainWaiter(g, DefaultPollInterval).Wait()
}

// WaitForDrainContext is WaitForDrain with cancellation
func (g *Group) WaitForDrainContext(ctx context.Context) error {
	return NewDrainWaiter(g, DefaultPollInterval).WaitContext(ctx)
}

// Drain runs WaitForDrainContext in a goroutine and delivers its result on the
// returned channel, for callers racing the drain against other events.
func (g *Group) Drain(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- g.WaitForDrainContext(ctx)
	}()
	return result
}
