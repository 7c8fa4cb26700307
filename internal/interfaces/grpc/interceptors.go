package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/turtacn/apigateway/internal/infrastructure/origin/grpcclient"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// InterceptorChain 拦截器链
type InterceptorChain struct {
	log logger.Logger
}

// NewInterceptorChain 创建拦截器链
func NewInterceptorChain(log logger.Logger) *InterceptorChain {
	return &InterceptorChain{log: log}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, string(errors.KindSystem))
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			statusCode = status.Code(err)
		}
		ic.log.Debug(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)
		return resp, err
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}

		code := grpcCode(err)
		if code == grpcCodes.Internal {
			ic.log.Error(ctx, "Origin call failed", err, logger.String("method", info.FullMethod))
		}
		return resp, status.Error(code, grpcclient.StatusMessage(err))
	}
}

// grpcCode 将领域错误转换为 gRPC 状态码
func grpcCode(err error) grpcCodes.Code {
	ge, ok := errors.AsGatewayError(err)
	if !ok {
		return grpcCodes.Internal
	}
	switch ge.Kind {
	case errors.KindNotFound:
		return grpcCodes.NotFound
	case errors.KindNoGrant:
		return grpcCodes.PermissionDenied
	case errors.KindQuotaExhausted:
		return grpcCodes.ResourceExhausted
	default:
		return grpcCodes.Internal
	}
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(), // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),  // 2. 日志
		ic.UnaryErrorInterceptor(),    // 3. 错误转换
	)
}
