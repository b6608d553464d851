package interceptor

import (
	"context"
	"sync"
	"time"

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
	mintAttempts = 3
	mintBackoff  = 100 * time.Millisecond

	// reuseFraction keeps a safety margin against clock skew: a cached token
	// is reused only until 90% of its lifetime has elapsed.
	reuseFraction = 0.9
)

// UnaryClientCorrelation copies the request-scope correlation id to the
// outbound metadata, or mints one so background work stays traceable. Every
// call also gets a fresh x-request-id.
func UnaryClientCorrelation() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		id, ok := obs.CorrelationIDFromContext(ctx)
		if !ok {
			id = uuid.NewString()
			ctx = obs.ContextWithCorrelationID(ctx, id)
		}
		ctx = metadata.AppendToOutgoingContext(ctx,
			CorrelationIDKey, id,
			RequestIDKey, uuid.NewString(),
		)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

type cachedToken struct {
	raw     string
	reuseBy time.Time
}

// TokenSource supplies bearer tokens for outgoing calls: the caller's own
// token when the request scope carries one, otherwise a token minted for the
// current principal and cached per subject.
type TokenSource struct {
	codec *token.Codec
	mode  config.ClientMode
	ttl   time.Duration
	now   func() time.Time
	sleep func(time.Duration)

	mu    sync.Mutex
	cache map[string]cachedToken
}

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*TokenSource)

// WithTokenSourceClock overrides time and sleep (useful for tests).
func WithTokenSourceClock(now func() time.Time, sleep func(time.Duration)) TokenSourceOption {
	return func(ts *TokenSource) {
		if now != nil {
			ts.now = now
		}
		if sleep != nil {
			ts.sleep = sleep
		}
	}
}

// NewTokenSource builds the client-side token stage.
func NewTokenSource(codec *token.Codec, mode config.ClientMode, ttl time.Duration, opts ...TokenSourceOption) *TokenSource {
	ts := &TokenSource{
		codec: codec,
		mode:  mode,
		ttl:   ttl,
		now:   time.Now,
		sleep: time.Sleep,
		cache: make(map[string]cachedToken),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Unary returns the token attachment interceptor.
func (ts *TokenSource) Unary() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if ts.mode == config.ClientModeNone {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		raw, err := ts.tokenForContext(ctx)
		if err != nil {
			return err
		}

		if ts.mode == config.ClientModeValidate {
			if raw == "" {
				return status.Error(codes.Unauthenticated, "missing token")
			}
			if _, err := ts.codec.Verify(raw); err != nil {
				// Terminate locally; the call never hits the wire.
				return status.Error(codes.Unauthenticated, "token failed pre-send validation")
			}
		}

		if raw != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, authorizationKey, bearerPrefix+raw)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (ts *TokenSource) tokenForContext(ctx context.Context) (string, error) {
	if raw, ok := identity.TokenFromContext(ctx); ok {
		return raw, nil
	}
	principal, ok := identity.PrincipalFromContext(ctx)
	if !ok {
		return "", nil
	}
	return ts.tokenFor(principal)
}

func (ts *TokenSource) tokenFor(p identity.Principal) (string, error) {
	ts.mu.Lock()
	if entry, ok := ts.cache[p.Username]; ok && ts.now().Before(entry.reuseBy) {
		ts.mu.Unlock()
		return entry.raw, nil
	}
	ts.mu.Unlock()

	var (
		raw string
		err error
	)
	for attempt := 0; attempt < mintAttempts; attempt++ {
		if attempt > 0 {
			ts.sleep(mintBackoff)
		}
		raw, err = ts.codec.Issue(p.Username, p.UserID, p.Authorities, ts.ttl)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "token issuance failed")
	}

	reuse := time.Duration(float64(ts.ttl) * reuseFraction)
	ts.mu.Lock()
	ts.cache[p.Username] = cachedToken{raw: raw, reuseBy: ts.now().Add(reuse)}
	ts.mu.Unlock()
	return raw, nil
}
