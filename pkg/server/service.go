package server

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "poolselect.Selection"

// SelectionServer is implemented by Server
type SelectionServer interface {
	Match(context.Context, *MatchRequest) (*MatchResponse, error)
	Command(context.Context, *CommandRequest) (*CommandResponse, error)
	DumpSetup(context.Context, *DumpSetupRequest) (*DumpSetupResponse, error)
	ReplicaState(context.Context, *ReplicaStateRequest) (*ReplicaStateResponse, error)
}

func unaryHandler[Req, Resp any](method string, call func(SelectionServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SelectionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SelectionServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the Selection service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SelectionServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Match", SelectionServer.Match),
		unaryHandler("Command", SelectionServer.Command),
		unaryHandler("DumpSetup", SelectionServer.DumpSetup),
		unaryHandler("ReplicaState", SelectionServer.ReplicaState),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "poolselect/selection",
}

// RegisterSelectionServer registers srv with s
func RegisterSelectionServer(s grpc.ServiceRegistrar, srv SelectionServer) {
	s.RegisterService(&ServiceDesc, srv)
}
