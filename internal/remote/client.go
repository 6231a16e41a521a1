// Package remote is the typed client of the access-check gRPC service.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/iotaledger/product-core-sub000/internal/accessrpc"
	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/counter"
)

// Client wraps the gRPC access service.
type Client struct {
	conn   *grpc.ClientConn
	svc    accessrpc.AccessServiceClient
	health healthpb.HealthClient
}

// Dial creates a new client. Without options the transport is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		svc:    accessrpc.NewAccessServiceClient(conn),
		health: healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check asks whether token grants permission on the counter for the caller vouched for by
// callerToken. An empty callerToken falls back to the assertion stored in ctx, which
// travels as metadata.
func (c *Client) Check(ctx context.Context, counterID, token string, perm counter.Permission, callerToken string) (accessrpc.CheckResponse, error) {
	in, err := accessrpc.CheckRequest{
		CounterID:   counterID,
		Token:       token,
		Permission:  string(perm),
		CallerToken: callerToken,
	}.ToStruct()
	if err != nil {
		return accessrpc.CheckResponse{}, err
	}
	out, err := c.svc.Check(outgoingWithCaller(ctx), in)
	if err != nil {
		return accessrpc.CheckResponse{}, mapError(err)
	}
	return accessrpc.CheckResponseFromStruct(out)
}

// Ready reports whether the server's health service says SERVING.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: accessrpc.ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func outgoingWithCaller(ctx context.Context) context.Context {
	assertion, ok := auth.CallerTokenFromContext(ctx)
	if !ok {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, accessrpc.CallerTokenMetadataKey, assertion)
}

func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", counter.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		if strings.Contains(st.Message(), "unknown permission") {
			return fmt.Errorf("%w: %s", counter.ErrUnknownPermission, st.Message())
		}
	}
	return err
}

// WithTimeout returns a context with a default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
