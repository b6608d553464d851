// Package interceptor implements the per-RPC chains on both sides of the
// wire: correlation id handling, token verification, principal resolution and
// per-method authorization on the server; correlation propagation and token
// attachment on the client. Request-scoped values (principal, token,
// correlation id) live on the per-call context only, so their visibility is
// co-terminous with the RPC and nothing can leak to another in-flight call.
package interceptor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"lattice.dev/internal/config"
	"lattice.dev/internal/identity"
	"lattice.dev/internal/obs"
	"lattice.dev/internal/token"
)

const (
	// CorrelationIDKey is the wire-visible metadata key.
	CorrelationIDKey = "x-correlation-id"
	// RequestIDKey is attached per outgoing call.
	RequestIDKey = "x-request-id"

	authorizationKey = "authorization"
	bearerPrefix     = "Bearer "
)

// UnaryCorrelation adopts the inbound correlation id or mints a fresh one,
// publishes it into the request context, and attaches it to the response
// trailers so the caller sees it even on error.
func UnaryCorrelation() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := inboundCorrelationID(ctx)
		if id == "" {
			id = uuid.NewString()
		}
		ctx = obs.ContextWithCorrelationID(ctx, id)
		_ = grpc.SetTrailer(ctx, metadata.Pairs(CorrelationIDKey, id))

		resp, err := handler(ctx, req)
		if err != nil {
			obs.Event(ctx, "warn", "rpc failed", map[string]any{
				"method": info.FullMethod,
				"code":   status.Code(err).String(),
			})
		}
		return resp, err
	}
}

// UnaryRecovery converts panics into a bare Internal status. The panic value
// is logged and never reaches the caller. The log line carries a correlation
// id only when the context this interceptor receives already holds one; when
// it is chained ahead of UnaryCorrelation, as both services do, it has none.
func UnaryRecovery() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				obs.Event(ctx, "error", "panic in handler", map[string]any{
					"method": info.FullMethod,
					"panic":  r,
				})
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// Authenticator is the server-side authentication and authorization stage.
type Authenticator struct {
	codec    *token.Codec
	resolver *identity.Resolver
	mode     config.ServerMode
	excluded map[string]struct{}
	policies map[string]Policy
}

// NewAuthenticator builds the stage. The mode is chosen at startup and
// uniform for the process; excluded methods bypass authentication and
// authorization entirely.
func NewAuthenticator(codec *token.Codec, resolver *identity.Resolver, sec config.Security, policies map[string]Policy) *Authenticator {
	excluded := make(map[string]struct{}, len(sec.ExcludedMethods))
	for _, m := range sec.ExcludedMethods {
		excluded[m] = struct{}{}
	}
	return &Authenticator{
		codec:    codec,
		resolver: resolver,
		mode:     sec.ServerMode,
		excluded: excluded,
		policies: policies,
	}
}

// Unary returns the authentication + authorization interceptor.
func (a *Authenticator) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := a.excluded[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		if a.mode == config.ServerModeNone {
			return handler(ctx, req)
		}

		raw := bearerFromMetadata(ctx)

		switch a.mode {
		case config.ServerModeBasicValidation:
			if raw == "" {
				return nil, status.Error(codes.Unauthenticated, "missing token")
			}
			if _, err := a.codec.Verify(raw); err != nil {
				return nil, verificationStatus(err)
			}
			// Token checks out but no principal is published in this mode.
			return handler(identity.ContextWithToken(ctx, raw), req)

		case config.ServerModeFull:
			var (
				principal identity.Principal
				anonymous = raw == ""
			)
			if !anonymous {
				claims, err := a.codec.Verify(raw)
				if err != nil {
					return nil, verificationStatus(err)
				}
				principal, err = a.resolver.Resolve(ctx, claims)
				if err != nil {
					return nil, status.Error(codes.Unauthenticated, "identity unknown or disabled")
				}
				ctx = identity.ContextWithPrincipal(ctx, principal)
				ctx = identity.ContextWithToken(ctx, raw)
			}

			policy, ok := a.policies[info.FullMethod]
			if !ok {
				policy = RequireAuthenticated()
			}
			if err := policy.Authorize(ctx, req, principal, anonymous); err != nil {
				return nil, err
			}
			return handler(ctx, req)

		default:
			return handler(ctx, req)
		}
	}
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return ""
	}
	header := strings.TrimSpace(values[0])
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

func inboundCorrelationID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(CorrelationIDKey)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func verificationStatus(err error) error {
	switch err {
	case token.ErrExpired:
		return status.Error(codes.Unauthenticated, "token expired")
	case token.ErrWrongIssuer:
		return status.Error(codes.Unauthenticated, "wrong issuer")
	case token.ErrWrongAudience:
		return status.Error(codes.Unauthenticated, "wrong audience")
	case token.ErrMissingClaim:
		return status.Error(codes.Unauthenticated, "missing required claim")
	case token.ErrBadSignature:
		return status.Error(codes.Unauthenticated, "bad signature")
	default:
		return status.Error(codes.Unauthenticated, "malformed token")
	}
}
