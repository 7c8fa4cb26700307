// Package grpc serves the origin of record over gRPC for gateways configured
// with origin.kind "grpc".
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/internal/infrastructure/origin/grpcclient"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// OriginServiceDesc describes the origin service. Handlers receive the
// registered service.OriginClient and report absent records as ErrNotFound.
var OriginServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcclient.ServiceName,
	HandlerType: (*service.OriginClient)(nil),
	Methods: []grpc.MethodDesc{
		unary("ResolveUser", grpcclient.MethodResolveUser,
			func(ctx context.Context, o service.OriginClient, in *grpcclient.UserRequest) (interface{}, error) {
				p, err := o.ResolveUserByAccessKey(ctx, in.AccessKey)
				return found(p, p == nil, err)
			}),
		unary("ResolveRoute", grpcclient.MethodResolveRoute,
			func(ctx context.Context, o service.OriginClient, in *grpcclient.RouteRequest) (interface{}, error) {
				r, err := o.ResolveRoute(ctx, in.URL, in.Method)
				return found(r, r == nil, err)
			}),
		unary("ResolveQuota", grpcclient.MethodResolveQuota,
			func(ctx context.Context, o service.OriginClient, in *grpcclient.RelationRequest) (interface{}, error) {
				q, err := o.ResolveQuota(ctx, in.InterfaceID, in.UserID)
				return found(q, q == nil, err)
			}),
		unary("RecordInvocation", grpcclient.MethodRecordInvocation,
			func(ctx context.Context, o service.OriginClient, in *grpcclient.RelationRequest) (interface{}, error) {
				if err := o.RecordInvocation(ctx, in.InterfaceID, in.UserID); err != nil {
					return nil, err
				}
				return &grpcclient.InvokeReply{Recorded: true}, nil
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "origin",
}

// NewOriginGRPCServer creates a gRPC server exposing origin and the standard
// health service.
func NewOriginGRPCServer(origin service.OriginClient, log logger.Logger) *grpc.Server {
	chain := NewInterceptorChain(log.WithComponent("origin-grpc"))
	server := grpc.NewServer(chain.ChainUnaryInterceptors())
	server.RegisterService(&OriginServiceDesc, origin)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(grpcclient.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

func unary[Req any](name, fullMethod string, call func(context.Context, service.OriginClient, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			origin := srv.(service.OriginClient)
			if interceptor == nil {
				return call(ctx, origin, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(ctx, origin, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func found(value interface{}, absent bool, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if absent {
		return nil, errors.ErrNotFound
	}
	return value, nil
}
