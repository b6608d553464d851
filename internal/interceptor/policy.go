package interceptor

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lattice.dev/internal/identity"
)

// Policy decides whether a call may proceed. Policies are evaluated only in
// FULL server mode, after a principal has been resolved (or the call was
// found anonymous). Methods without an entry in the policy map default to
// RequireAuthenticated.
type Policy struct {
	// AllowAnonymous admits calls without a token.
	AllowAnonymous bool
	// AnyAuthority requires at least one of the listed authorities.
	AnyAuthority []string
	// Check runs an extra request-aware rule, e.g. caller-claim versus
	// method-argument ownership. Return a status error to control the code;
	// any other error becomes PermissionDenied.
	Check func(ctx context.Context, req any, p identity.Principal) error
}

// Authorize applies the policy.
func (p Policy) Authorize(ctx context.Context, req any, principal identity.Principal, anonymous bool) error {
	if anonymous {
		if p.AllowAnonymous {
			return nil
		}
		return status.Error(codes.Unauthenticated, "missing token")
	}
	if len(p.AnyAuthority) > 0 {
		found := false
		for _, role := range p.AnyAuthority {
			if principal.HasAuthority(role) {
				found = true
				break
			}
		}
		if !found {
			return status.Error(codes.PermissionDenied, "insufficient authorities")
		}
	}
	if p.Check != nil {
		if err := p.Check(ctx, req, principal); err != nil {
			if _, ok := status.FromError(err); ok {
				return err
			}
			return status.Error(codes.PermissionDenied, "denied by policy")
		}
	}
	return nil
}

// RequireAuthenticated is the default policy: any resolved principal passes.
func RequireAuthenticated() Policy {
	return Policy{}
}

// Public admits anonymous callers.
func Public() Policy {
	return Policy{AllowAnonymous: true}
}

// SelfOrAuthority admits the caller when the request targets their own user
// id, or when they hold one of the given authorities.
func SelfOrAuthority(targetUserID func(req any) string, roles ...string) Policy {
	return Policy{
		Check: func(ctx context.Context, req any, p identity.Principal) error {
			if targetUserID(req) == p.UserID {
				return nil
			}
			for _, role := range roles {
				if p.HasAuthority(role) {
					return nil
				}
			}
			return status.Error(codes.PermissionDenied, "caller may only act on their own account")
		},
	}
}
