package domain

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
	"github.com/core-tools/hsu-jobobject/pkg/processstate"
)

// ProcessProbe reports whether a process is alive
type ProcessProbe func(pid uint32) (bool, error)

// NewGroupHandler serves the contract over g. Every call holds lock while it
// touches g, so the owner of g must hold the same lock for its own accesses
// once the handler is reachable. A nil lock gives the handler a private one.
// The handler does not own g.
func NewGroupHandler(g *jobobject.Group, lock sync.Locker, logger logging.Logger) Contract {
	return newGroupHandler(g, lock, processstate.IsProcessRunning, logger)
}

func newGroupHandler(g *jobobject.Group, lock sync.Locker, probe ProcessProbe, logger logging.Logger) *groupHandler {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &groupHandler{
		mutex:  lock,
		group:  g,
		probe:  probe,
		logger: logger,
	}
}

type groupHandler struct {
	mutex  sync.Locker
	group  *jobobject.Group
	probe  ProcessProbe
	logger logging.Logger
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return errors.NewInvalidArgumentError("context cannot be nil", nil)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("request cancelled", err)
	}
	return nil
}

func (h *groupHandler) Status(ctx context.Context) (*GroupStatus, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	status := &GroupStatus{
		ID:        h.group.ID(),
		Name:      h.group.Name(),
		Anonymous: h.group.Anonymous(),
		Opened:    h.group.Opened(),
		Members:   h.group.Members(),
	}

	limits, err := h.group.LimitInfo()
	if err != nil {
		h.logger.Errorf("Status: failed to read limits, group: %s, error: %v", h.group.ID(), err)
		return nil, err
	}
	status.Limits = limits

	accounting, err := h.group.AccountInfo()
	if err != nil {
		h.logger.Errorf("Status: failed to read accounting, group: %s, error: %v", h.group.ID(), err)
		return nil, err
	}
	status.Accounting = accounting

	return status, nil
}

func (h *groupHandler) Members(ctx context.Context) ([]MemberStatus, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	pids, err := h.group.MemberPIDs()
	if err != nil {
		h.logger.Errorf("Members: failed to list processes, group: %s, error: %v", h.group.ID(), err)
		return nil, err
	}

	members := make([]MemberStatus, 0, len(pids))
	for _, pid := range pids {
		running, err := h.probe(pid)
		if err != nil {
			h.logger.Warnf("Members: liveness probe failed, pid: %d, error: %v", pid, err)
		}
		members = append(members, MemberStatus{PID: pid, Running: running})
	}
	return members, nil
}

func (h *groupHandler) Admit(ctx context.Context, pid uint32) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, err := h.group.Admit(pid)
	return err
}

func (h *groupHandler) Terminate(ctx context.Context, exitCode uint32) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.group.Terminate(exitCode)
}
