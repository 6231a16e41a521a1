// Package accessrpc describes the access-check gRPC service. Messages travel as
// google.protobuf.Struct so that no generated code is needed on either side.
package accessrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "productcore.access.v1.AccessService"
	CheckMethod = "/" + ServiceName + "/Check"

	// CallerTokenMetadataKey carries the caller assertion when the request leaves it empty.
	CallerTokenMetadataKey = "x-caller-token"
)

// CheckRequest asks whether token grants permission on a counter. CallerToken is a signed
// caller assertion naming the address the check runs for.
type CheckRequest struct {
	CounterID   string
	Token       string
	Permission  string
	CallerToken string
}

// CheckResponse carries the verdict. Reason is "ok" when Valid is true.
type CheckResponse struct {
	Valid  bool
	Reason string
}

func (r CheckRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"counter_id":   r.CounterID,
		"token":        r.Token,
		"permission":   r.Permission,
		"caller_token": r.CallerToken,
	})
}

func CheckRequestFromStruct(s *structpb.Struct) CheckRequest {
	return CheckRequest{
		CounterID:   stringField(s, "counter_id"),
		Token:       stringField(s, "token"),
		Permission:  stringField(s, "permission"),
		CallerToken: stringField(s, "caller_token"),
	}
}

func (r CheckResponse) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"valid":  r.Valid,
		"reason": r.Reason,
	})
}

func CheckResponseFromStruct(s *structpb.Struct) (CheckResponse, error) {
	v, ok := s.GetFields()["valid"]
	if !ok {
		return CheckResponse{}, fmt.Errorf("accessrpc: response without valid field")
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return CheckResponse{}, fmt.Errorf("accessrpc: valid is not a bool")
	}
	return CheckResponse{Valid: b.BoolValue, Reason: stringField(s, "reason")}, nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

// AccessServiceServer is implemented by the server side.
type AccessServiceServer interface {
	Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessServiceServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessServiceServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "productcore/access/v1/access.proto",
}

func RegisterAccessServiceServer(s grpc.ServiceRegistrar, srv AccessServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// AccessServiceClient is the client side of the service.
type AccessServiceClient interface {
	Check(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type accessServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAccessServiceClient(cc grpc.ClientConnInterface) AccessServiceClient {
	return &accessServiceClient{cc: cc}
}

func (c *accessServiceClient) Check(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CheckMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
