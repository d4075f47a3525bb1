package control

import (
	"context"
	"encoding/json"

	"github.com/core-tools/hsu-jobobject/pkg/domain"
	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		grpcClient: NewGroupControlClient(grpcClientConnection),
		logger:     logger,
	}
}

type grpcClientGateway struct {
	grpcClient GroupControlClient
	logger     logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (*domain.GroupStatus, error) {
	response, err := gw.grpcClient.Status(ctx, &emptypb.Empty{})
	if err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return nil, fromStatusError(err)
	}
	var groupStatus domain.GroupStatus
	if err := json.Unmarshal(response.GetValue(), &groupStatus); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return nil, errors.NewMalformedResponseError("failed to decode status", err)
	}
	gw.logger.Debugf("Status client gateway done")
	return &groupStatus, nil
}

func (gw *grpcClientGateway) Members(ctx context.Context) ([]domain.MemberStatus, error) {
	response, err := gw.grpcClient.Members(ctx, &emptypb.Empty{})
	if err != nil {
		gw.logger.Errorf("Members client gateway: %v", err)
		return nil, fromStatusError(err)
	}

	list := response.GetFields()["members"].GetListValue().GetValues()
	members := make([]domain.MemberStatus, 0, len(list))
	for _, value := range list {
		fields := value.GetStructValue().GetFields()
		pid, ok := fields["pid"]
		if !ok {
			return nil, errors.NewMalformedResponseError("member entry without pid", nil)
		}
		members = append(members, domain.MemberStatus{
			PID:     uint32(pid.GetNumberValue()),
			Running: fields["running"].GetBoolValue(),
		})
	}
	gw.logger.Debugf("Members client gateway done, members: %d", len(members))
	return members, nil
}

func (gw *grpcClientGateway) Admit(ctx context.Context, pid uint32) error {
	if _, err := gw.grpcClient.Admit(ctx, wrapperspb.UInt32(pid)); err != nil {
		gw.logger.Errorf("Admit client gateway, pid: %d, error: %v", pid, err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("Admit client gateway done, pid: %d", pid)
	return nil
}

func (gw *grpcClientGateway) Terminate(ctx context.Context, exitCode uint32) error {
	if _, err := gw.grpcClient.Terminate(ctx, wrapperspb.UInt32(exitCode)); err != nil {
		gw.logger.Errorf("Terminate client gateway, exit code: %d, error: %v", exitCode, err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("Terminate client gateway done, exit code: %d", exitCode)
	return nil
}
