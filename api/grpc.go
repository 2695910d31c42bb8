package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MeshServer is the server API for the Mesh gRPC service.
//
// We intentionally use protobuf well-known wrapper types so this package
// does not require a protoc/codegen toolchain. Structured replies are
// canonical JSON carried in BytesValue.
//
// Proto definition: mesh.proto.
type MeshServer interface {
	// SubmitNode accepts canonical node envelope bytes and returns the CID.
	SubmitNode(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	// GetNode returns the stored envelope bytes for a CID.
	GetNode(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// HasNode reports whether a CID is anchored.
	HasNode(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// GetThread returns the scope's CIDs in thread order as a JSON array.
	GetThread(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// EvaluateQuorum returns the JSON tally for a proposal CID.
	EvaluateQuorum(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// ListMatches returns the DIDs matching a JSON capability selector.
	ListMatches(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	// AuditDispatch returns the JSON audit report for a receipt CID.
	AuditDispatch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedMeshServer can be embedded to have forward compatible implementations.
type UnimplementedMeshServer struct{}

func (UnimplementedMeshServer) SubmitNode(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitNode not implemented")
}
func (UnimplementedMeshServer) GetNode(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetNode not implemented")
}
func (UnimplementedMeshServer) HasNode(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method HasNode not implemented")
}
func (UnimplementedMeshServer) GetThread(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetThread not implemented")
}
func (UnimplementedMeshServer) EvaluateQuorum(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method EvaluateQuorum not implemented")
}
func (UnimplementedMeshServer) ListMatches(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListMatches not implemented")
}
func (UnimplementedMeshServer) AuditDispatch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method AuditDispatch not implemented")
}

// RegisterMeshServer registers the Mesh service on a gRPC server.
func RegisterMeshServer(s grpc.ServiceRegistrar, srv MeshServer) {
	s.RegisterService(&Mesh_ServiceDesc, srv)
}

// MeshClient is the client API for the Mesh gRPC service.
type MeshClient interface {
	SubmitNode(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	GetNode(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	HasNode(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	GetThread(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	EvaluateQuorum(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	ListMatches(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	AuditDispatch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type meshClient struct{ cc grpc.ClientConnInterface }

func NewMeshClient(cc grpc.ClientConnInterface) MeshClient { return &meshClient{cc: cc} }

func (c *meshClient) SubmitNode(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/SubmitNode", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) GetNode(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/GetNode", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) HasNode(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/HasNode", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) GetThread(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/GetThread", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) EvaluateQuorum(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/EvaluateQuorum", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) ListMatches(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/ListMatches", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshClient) AuditDispatch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/icn.mesh.api.v1.Mesh/AuditDispatch", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _Mesh_SubmitNode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).SubmitNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/SubmitNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).SubmitNode(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_GetNode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).GetNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/GetNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).GetNode(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_HasNode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).HasNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/HasNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).HasNode(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_GetThread_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).GetThread(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/GetThread"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).GetThread(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_EvaluateQuorum_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).EvaluateQuorum(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/EvaluateQuorum"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).EvaluateQuorum(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_ListMatches_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).ListMatches(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/ListMatches"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).ListMatches(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Mesh_AuditDispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).AuditDispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/icn.mesh.api.v1.Mesh/AuditDispatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeshServer).AuditDispatch(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Mesh_ServiceDesc is the grpc.ServiceDesc for the Mesh service.
var Mesh_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "icn.mesh.api.v1.Mesh",
	HandlerType: (*MeshServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitNode", Handler: _Mesh_SubmitNode_Handler},
		{MethodName: "GetNode", Handler: _Mesh_GetNode_Handler},
		{MethodName: "HasNode", Handler: _Mesh_HasNode_Handler},
		{MethodName: "GetThread", Handler: _Mesh_GetThread_Handler},
		{MethodName: "EvaluateQuorum", Handler: _Mesh_EvaluateQuorum_Handler},
		{MethodName: "ListMatches", Handler: _Mesh_ListMatches_Handler},
		{MethodName: "AuditDispatch", Handler: _Mesh_AuditDispatch_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mesh.proto",
}
