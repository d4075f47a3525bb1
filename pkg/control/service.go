package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "hsu.jobobject.v1.GroupControl"

const (
	statusMethod    = "/" + ServiceName + "/Status"
	membersMethod   = "/" + ServiceName + "/Members"
	admitMethod     = "/" + ServiceName + "/Admit"
	terminateMethod = "/" + ServiceName + "/Terminate"
)

// GroupControlServer is the server side of the control service. Messages are
// protobuf well-known types: Status returns the JSON status document, Members
// a struct with a "members" list.
type GroupControlServer interface {
	Status(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Members(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Admit(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
	Terminate(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
}

// GroupControlClient is the client side of the control service
type GroupControlClient interface {
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Members(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Admit(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Terminate(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

var groupControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GroupControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Members", Handler: membersHandler},
		{MethodName: "Admit", Handler: admitHandler},
		{MethodName: "Terminate", Handler: terminateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsu/jobobject/v1/group_control",
}

// RegisterGroupControlServer registers srv on the registrar
func RegisterGroupControlServer(registrar grpc.ServiceRegistrar, srv GroupControlServer) {
	registrar.RegisterService(&groupControlServiceDesc, srv)
}

func unary(ctx context.Context, in interface{}, method string, srv interface{},
	interceptor grpc.UnaryServerInterceptor, call grpc.UnaryHandler) (interface{}, error) {
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	return interceptor(ctx, in, info, call)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(ctx, in, statusMethod, srv, interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GroupControlServer).Status(ctx, req.(*emptypb.Empty))
	})
}

func membersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(ctx, in, membersMethod, srv, interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GroupControlServer).Members(ctx, req.(*emptypb.Empty))
	})
}

func admitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(ctx, in, admitMethod, srv, interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GroupControlServer).Admit(ctx, req.(*wrapperspb.UInt32Value))
	})
}

func terminateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(ctx, in, terminateMethod, srv, interceptor, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(GroupControlServer).Terminate(ctx, req.(*wrapperspb.UInt32Value))
	})
}

type groupControlClient struct {
	cc grpc.ClientConnInterface
}

// NewGroupControlClient returns a client for the control service on cc
func NewGroupControlClient(cc grpc.ClientConnInterface) GroupControlClient {
	return &groupControlClient{cc: cc}
}

func (c *groupControlClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, statusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *groupControlClient) Members(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, membersMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *groupControlClient) Admit(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, admitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *groupControlClient) Terminate(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, terminateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
