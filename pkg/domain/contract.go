package domain

import (
	"context"

	"github.com/core-tools/hsu-jobobject/pkg/jobobject"
)

// GroupStatus is a point-in-time view of a group
type GroupStatus struct {
	ID         string                        `json:"id"`
	Name       string                        `json:"name"`
	Anonymous  bool                          `json:"anonymous"`
	Opened     bool                          `json:"opened"`
	Members    []uint32                      `json:"members"`
	Limits     *jobobject.LimitInfo          `json:"limits,omitempty"`
	Accounting *jobobject.AccountingSnapshot `json:"accounting,omitempty"`
}

// MemberStatus describes one process currently in the group
type MemberStatus struct {
	PID     uint32 `json:"pid"`
	Running bool   `json:"running"`
}

// Contract is the control surface of a running group
type Contract interface {
	Status(ctx context.Context) (*GroupStatus, error)
	Members(ctx context.Context) ([]MemberStatus, error)
	Admit(ctx context.Context, pid uint32) error
	Terminate(ctx context.Context, exitCode uint32) error
}
