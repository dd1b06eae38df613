package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vtnflow.v1.FlowFilterService"

// Full method names.
const (
	MethodDecide      = "/" + ServiceName + "/Decide"
	MethodShowFilters = "/" + ServiceName + "/ShowFilters"
	MethodShowTrace   = "/" + ServiceName + "/ShowTrace"
	MethodStatus      = "/" + ServiceName + "/Status"
	MethodCommit      = "/" + ServiceName + "/Commit"
)

// FlowFilterServiceServer is the server API. Messages are JSON objects
// carried as google.protobuf.Struct; their shapes are the api package's
// request and response types.
type FlowFilterServiceServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShowFilters(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShowTrace(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Commit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterFlowFilterServiceServer registers srv with s.
func RegisterFlowFilterServiceServer(s grpc.ServiceRegistrar, srv FlowFilterServiceServer) {
	s.RegisterService(&flowFilterServiceDesc, srv)
}

func unaryHandler(method string, call func(FlowFilterServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FlowFilterServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FlowFilterServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var flowFilterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlowFilterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: unaryHandler(MethodDecide, FlowFilterServiceServer.Decide)},
		{MethodName: "ShowFilters", Handler: unaryHandler(MethodShowFilters, FlowFilterServiceServer.ShowFilters)},
		{MethodName: "ShowTrace", Handler: unaryHandler(MethodShowTrace, FlowFilterServiceServer.ShowTrace)},
		{MethodName: "Status", Handler: unaryHandler(MethodStatus, FlowFilterServiceServer.Status)},
		{MethodName: "Commit", Handler: unaryHandler(MethodCommit, FlowFilterServiceServer.Commit)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vtnflow/v1/flowfilter.proto",
}

// Client calls FlowFilterService over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDecide, in, opts...)
}

func (c *Client) ShowFilters(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodShowFilters, in, opts...)
}

func (c *Client) ShowTrace(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodShowTrace, in, opts...)
}

func (c *Client) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStatus, in, opts...)
}

func (c *Client) Commit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCommit, in, opts...)
}
