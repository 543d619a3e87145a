package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rowkeeper.records.v1.RecordService"

// Full method names, as seen by interceptors.
const (
	ListRecordsMethod   = "/" + ServiceName + "/ListRecords"
	GetRecordMethod     = "/" + ServiceName + "/GetRecord"
	CompileFilterMethod = "/" + ServiceName + "/CompileFilter"
	PlanPatchMethod     = "/" + ServiceName + "/PlanPatch"
)

// RecordServer is the server API of the record service. Requests and
// responses are google.protobuf.Struct documents.
type RecordServer interface {
	ListRecords(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompileFilter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlanPatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRecordServer registers srv on s.
func RegisterRecordServer(s grpc.ServiceRegistrar, srv RecordServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the record service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListRecords",
			Handler: unaryHandler(ListRecordsMethod, func(srv RecordServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return srv.ListRecords
			}),
		},
		{
			MethodName: "GetRecord",
			Handler: unaryHandler(GetRecordMethod, func(srv RecordServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetRecord
			}),
		},
		{
			MethodName: "CompileFilter",
			Handler: unaryHandler(CompileFilterMethod, func(srv RecordServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return srv.CompileFilter
			}),
		},
		{
			MethodName: "PlanPatch",
			Handler: unaryHandler(PlanPatchMethod, func(srv RecordServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return srv.PlanPatch
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rowkeeper/records/v1/records.proto",
}

// unaryHandler adapts a Struct-in, Struct-out method to grpc.MethodHandler.
func unaryHandler(fullMethod string, method func(RecordServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := method(srv.(RecordServer))
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RecordClient is the client API of the record service.
type RecordClient struct {
	cc grpc.ClientConnInterface
}

// NewRecordClient wraps a connection.
func NewRecordClient(cc grpc.ClientConnInterface) *RecordClient {
	return &RecordClient{cc: cc}
}

// ListRecords lists the records the caller may read.
func (c *RecordClient) ListRecords(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListRecordsMethod, in, opts...)
}

// GetRecord fetches one record the caller may read.
func (c *RecordClient) GetRecord(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetRecordMethod, in, opts...)
}

// CompileFilter compiles a decision document into SQL.
func (c *RecordClient) CompileFilter(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CompileFilterMethod, in, opts...)
}

// PlanPatch splits a record patch into per-aspect patches.
func (c *RecordClient) PlanPatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, PlanPatchMethod, in, opts...)
}

func (c *RecordClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
