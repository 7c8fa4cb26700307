// Package grpcclient implements the origin contract over gRPC. Messages are
// plain JSON structs, so neither side needs generated stubs.
// grpcclient 通过 gRPC 调用源服务，消息使用 JSON 编码。
package grpcclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

// ServiceName is the registered gRPC service name.
const ServiceName = "apigateway.origin.v1.Origin"

// Full method names.
const (
	MethodResolveUser      = "/" + ServiceName + "/ResolveUser"
	MethodResolveRoute     = "/" + ServiceName + "/ResolveRoute"
	MethodResolveQuota     = "/" + ServiceName + "/ResolveQuota"
	MethodRecordInvocation = "/" + ServiceName + "/RecordInvocation"
)

// UserRequest looks a principal up by access key.
type UserRequest struct {
	AccessKey string `json:"accessKey"`
}

// RouteRequest looks an interface up by full URL and method.
type RouteRequest struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// RelationRequest names one (interface, user) grant.
type RelationRequest struct {
	InterfaceID int64 `json:"interfaceId"`
	UserID      int64 `json:"userId"`
}

// InvokeReply acknowledges an accounting call.
type InvokeReply struct {
	Recorded bool `json:"recorded"`
}

// StatusMessage is the status message the server sends for err. The client
// maps it back to the sentinel with the same Kind.
func StatusMessage(err error) string {
	if ge, ok := errors.AsGatewayError(err); ok {
		return string(ge.Kind)
	}
	return string(errors.KindSystem)
}

var _ service.OriginClient = (*Client)(nil)

// Client calls the origin's gRPC service.
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
	logger  logger.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	dial []grpc.DialOption
}

// WithDialOptions appends dial options, for example a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dial = append(o.dial, opts...) }
}

// New creates a Client for cfg.Target. The connection is established lazily.
func New(cfg config.OriginConfig, log logger.Logger, opts ...Option) (*Client, error) {
	o := &options{
		dial: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(o)
	}

	conn, err := grpc.NewClient(cfg.Target, o.dial...)
	if err != nil {
		return nil, fmt.Errorf("failed to create origin grpc client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: timeout,
		logger:  log.WithComponent("origin-grpc"),
	}, nil
}

// ResolveUserByAccessKey calls ResolveUser.
func (c *Client) ResolveUserByAccessKey(ctx context.Context, accessKey string) (*models.Principal, error) {
	var p models.Principal
	found, err := c.lookup(ctx, MethodResolveUser, &UserRequest{AccessKey: accessKey}, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// ResolveRoute calls ResolveRoute.
func (c *Client) ResolveRoute(ctx context.Context, fullURL, method string) (*models.RouteDescriptor, error) {
	var r models.RouteDescriptor
	found, err := c.lookup(ctx, MethodResolveRoute, &RouteRequest{URL: fullURL, Method: method}, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// ResolveQuota calls ResolveQuota.
func (c *Client) ResolveQuota(ctx context.Context, interfaceID, userID int64) (*models.QuotaRelation, error) {
	var q models.QuotaRelation
	found, err := c.lookup(ctx, MethodResolveQuota, &RelationRequest{InterfaceID: interfaceID, UserID: userID}, &q)
	if err != nil || !found {
		return nil, err
	}
	return &q, nil
}

// RecordInvocation calls RecordInvocation.
func (c *Client) RecordInvocation(ctx context.Context, interfaceID, userID int64) error {
	var reply InvokeReply
	return c.invoke(ctx, MethodRecordInvocation, &RelationRequest{InterfaceID: interfaceID, UserID: userID}, &reply)
}

// Ping runs the standard gRPC health check against the origin.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("origin grpc service is %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) lookup(ctx context.Context, method string, req, out interface{}) (bool, error) {
	err := c.invoke(ctx, method, req, out)
	if stderrors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) invoke(ctx context.Context, method string, req, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.conn.Invoke(ctx, method, req, out, grpc.CallContentSubtype(CodecName))
	if err == nil {
		return nil
	}
	if ge := fromStatus(err); ge != nil {
		return ge
	}
	c.logger.Warn(ctx, "Origin call failed",
		logger.String("method", method),
		logger.String("error", err.Error()))
	return errors.ErrSystem.WithCause(err)
}

func fromStatus(err error) *errors.GatewayError {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	ge := errors.ByKind(errors.Kind(st.Message()))
	if ge == nil || ge.Kind == errors.KindSystem {
		return nil
	}
	return ge
}
