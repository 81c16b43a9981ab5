package httpapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/obs"
)

// DefaultGRPCPolicies leaves the health service reachable without a token.
var DefaultGRPCPolicies = map[string]auth.Policy{
	healthpb.Health_Check_FullMethodName: auth.Public,
	healthpb.Health_Watch_FullMethodName: auth.Public,
}

// GRPCGate applies the request gate to gRPC calls. Policies are keyed by full method name;
// methods without an entry need an authenticated session.
type GRPCGate struct {
	gate     *auth.Gate
	policies map[string]auth.Policy
}

func NewGRPCGate(gate *auth.Gate, policies map[string]auth.Policy) *GRPCGate {
	p := make(map[string]auth.Policy, len(policies))
	for method, policy := range policies {
		p[method] = policy
	}
	return &GRPCGate{gate: gate, policies: p}
}

func (g *GRPCGate) policyFor(method string) auth.Policy {
	if p, ok := g.policies[method]; ok {
		return p
	}
	return auth.Authenticated
}

func (g *GRPCGate) authorize(ctx context.Context, method string) (context.Context, error) {
	policy := g.policyFor(method)
	if policy.Public {
		return ctx, nil
	}
	token := tokenFromMetadata(ctx)
	identity, err := g.gate.Check(ctx, token, policy)
	obs.RecordGateDecision("grpc", gateDecision(err))
	if err != nil {
		return nil, grpcStatus(err)
	}
	ctx = auth.ContextWithIdentity(ctx, identity)
	return auth.ContextWithToken(ctx, token), nil
}

// Unary returns the unary server interceptor.
func (g *GRPCGate) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := g.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (g *GRPCGate) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := g.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &gatedStream{ServerStream: ss, ctx: ctx})
	}
}

type gatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *gatedStream) Context() context.Context { return s.ctx }

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	token, err := extractBearerToken(values[0])
	if err != nil {
		return ""
	}
	return token
}

func grpcStatus(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, auth.ErrUnavailable):
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// NewGRPCServer builds a server guarded by gate with the health service registered. The
// returned health server starts SERVING.
func NewGRPCServer(gate *GRPCGate, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(gate.Unary()),
		grpc.ChainStreamInterceptor(gate.Stream()),
	)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// SyncHealth mirrors the readiness probe into the health server.
func SyncHealth(ctx context.Context, probe ReadyProbe, hs *health.Server) error {
	st := healthpb.HealthCheckResponse_SERVING
	err := probe.Check(ctx)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", st)
	hs.SetServingStatus(serviceName, st)
	return err
}
