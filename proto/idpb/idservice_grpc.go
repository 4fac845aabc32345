// Package idpb defines the flake.v1.IDService gRPC contract. Messages are
// protobuf well-known types so no generated message code is needed:
//
//	service IDService {
//	  rpc NextID(google.protobuf.Empty) returns (google.protobuf.UInt64Value);
//	  rpc NextIDs(google.protobuf.UInt32Value) returns (google.protobuf.ListValue);
//	  rpc Decompose(google.protobuf.UInt64Value) returns (google.protobuf.Struct);
//	}
//
// NextIDs returns ids as decimal strings since ListValue numbers are doubles.
package idpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	IDService_NextID_FullMethodName    = "/flake.v1.IDService/NextID"
	IDService_NextIDs_FullMethodName   = "/flake.v1.IDService/NextIDs"
	IDService_Decompose_FullMethodName = "/flake.v1.IDService/Decompose"
)

// IDServiceClient is the client API for IDService.
type IDServiceClient interface {
	NextID(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error)
	NextIDs(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Decompose(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type idServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewIDServiceClient(cc grpc.ClientConnInterface) IDServiceClient {
	return &idServiceClient{cc}
}

func (c *idServiceClient) NextID(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.UInt64Value, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, IDService_NextID_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *idServiceClient) NextIDs(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, IDService_NextIDs_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *idServiceClient) Decompose(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, IDService_Decompose_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// IDServiceServer is the server API for IDService.
type IDServiceServer interface {
	NextID(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
	NextIDs(context.Context, *wrapperspb.UInt32Value) (*structpb.ListValue, error)
	Decompose(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
}

func RegisterIDServiceServer(s grpc.ServiceRegistrar, srv IDServiceServer) {
	s.RegisterService(&IDService_ServiceDesc, srv)
}

func _IDService_NextID_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IDServiceServer).NextID(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IDService_NextID_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IDServiceServer).NextID(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _IDService_NextIDs_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IDServiceServer).NextIDs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IDService_NextIDs_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IDServiceServer).NextIDs(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _IDService_Decompose_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IDServiceServer).Decompose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IDService_Decompose_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IDServiceServer).Decompose(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// IDService_ServiceDesc is the grpc.ServiceDesc for IDService.
var IDService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "flake.v1.IDService",
	HandlerType: (*IDServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "NextID",
			Handler:    _IDService_NextID_Handler,
		},
		{
			MethodName: "NextIDs",
			Handler:    _IDService_NextIDs_Handler,
		},
		{
			MethodName: "Decompose",
			Handler:    _IDService_Decompose_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flake/v1/id_service.proto",
}
