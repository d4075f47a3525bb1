package control

import (
	"context"
	"encoding/json"

	"github.com/core-tools/hsu-jobobject/pkg/domain"
	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	RegisterGroupControlServer(grpcServerRegistrar, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	groupStatus, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(err)
	}
	data, err := json.Marshal(groupStatus)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(errors.NewInternalError("failed to encode status", err))
	}
	h.logger.Debugf("Status server handler done")
	return wrapperspb.Bytes(data), nil
}

func (h *grpcServerHandler) Members(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	members, err := h.handler.Members(ctx)
	if err != nil {
		h.logger.Errorf("Members server handler: %v", err)
		return nil, toStatusError(err)
	}

	list := make([]interface{}, 0, len(members))
	for _, m := range members {
		list = append(list, map[string]interface{}{
			"pid":     float64(m.PID),
			"running": m.Running,
		})
	}
	response, err := structpb.NewStruct(map[string]interface{}{"members": list})
	if err != nil {
		h.logger.Errorf("Members server handler: %v", err)
		return nil, toStatusError(errors.NewInternalError("failed to encode members", err))
	}
	h.logger.Debugf("Members server handler done, members: %d", len(members))
	return response, nil
}

func (h *grpcServerHandler) Admit(ctx context.Context, request *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	pid := request.GetValue()
	if err := h.handler.Admit(ctx, pid); err != nil {
		h.logger.Errorf("Admit server handler, pid: %d, error: %v", pid, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Admit server handler done, pid: %d", pid)
	return &emptypb.Empty{}, nil
}

func (h *grpcServerHandler) Terminate(ctx context.Context, request *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	exitCode := request.GetValue()
	if err := h.handler.Terminate(ctx, exitCode); err != nil {
		h.logger.Errorf("Terminate server handler, exit code: %d, error: %v", exitCode, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Terminate server handler done, exit code: %d", exitCode)
	return &emptypb.Empty{}, nil
}
