package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/iotaledger/product-core-sub000/internal/accessrpc"
	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

// GRPCServer implements the access-check service and drives the standard health service.
type GRPCServer struct {
	readiness readinessChecker
	version   string
	counters  counter.Service
	signer    *auth.Signer
	clock     capability.Clock
	health    *health.Server
}

var _ accessrpc.AccessServiceServer = (*GRPCServer)(nil)

// NewGRPCServer creates the gRPC service wrapper. A nil clock means the system clock.
func NewGRPCServer(r readinessChecker, version string, counters counter.Service, signer *auth.Signer, clock capability.Clock) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if clock == nil {
		clock = capability.SystemClock{}
	}
	return &GRPCServer{
		readiness: r,
		version:   version,
		counters:  counters,
		signer:    signer,
		clock:     clock,
		health:    health.NewServer(),
	}
}

// Server builds a grpc.Server with the access and health services registered.
func (s *GRPCServer) Server(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryLogging)}, opts...)
	srv := grpc.NewServer(opts...)
	accessrpc.RegisterAccessServiceServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// UpdateReadiness evaluates readiness and publishes it through the health service.
func (s *GRPCServer) UpdateReadiness(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(accessrpc.ServiceName, st)
	obs.SetReady(err == nil)
	return err
}

// Shutdown marks every service as not serving.
func (s *GRPCServer) Shutdown() { s.health.Shutdown() }

// Check answers whether the token grants the permission on the counter. Authorization
// failures are answers, not errors; only malformed requests and unknown counters are.
func (s *GRPCServer) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := accessrpc.CheckRequestFromStruct(in)
	if strings.TrimSpace(req.CounterID) == "" {
		return nil, status.Error(codes.InvalidArgument, "counter_id is required")
	}
	perm, err := counter.ParsePermission(req.Permission)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := s.counters.Get(ctx, req.CounterID)
	if err != nil {
		if errors.Is(err, counter.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "counter %s not found", req.CounterID)
		}
		return nil, status.Error(codes.Internal, "load counter")
	}

	resp := accessrpc.CheckResponse{}
	caller, callerErr := s.callerFromRequest(ctx, req)
	presented, err := s.signer.Parse(req.Token)
	switch {
	case callerErr != nil:
		resp.Reason = "invalid_caller"
	case err != nil:
		resp.Reason = "invalid_token"
	default:
		err = c.Access().CheckCapability(presented, perm, s.clock, caller)
		obs.RecordAccessCheck(string(perm), err)
		resp.Valid = err == nil
		resp.Reason = rolemap.Reason(err)
	}
	out, err := resp.ToStruct()
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

// callerFromRequest verifies the caller assertion from the request or, failing that, from
// the call metadata. No assertion means no caller.
func (s *GRPCServer) callerFromRequest(ctx context.Context, req accessrpc.CheckRequest) (capability.Address, error) {
	assertion := strings.TrimSpace(req.CallerToken)
	if assertion == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(accessrpc.CallerTokenMetadataKey); len(vals) > 0 {
				assertion = strings.TrimSpace(vals[0])
			}
		}
	}
	if assertion == "" {
		return "", nil
	}
	return s.signer.ParseCaller(assertion)
}

// UnaryLogging logs one line per unary call.
func UnaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().Info("grpc_complete",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return resp, err
}
