package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"lattice.dev/internal/token"
)

const defaultPrincipalTTL = 5 * time.Minute

// Directory looks identities up by username. The user store satisfies it;
// remote directories could too.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
}

type cachedPrincipal struct {
	principal Principal
	deadline  time.Time
}

// Resolver converts a verified claim set into a Principal, consulting the
// directory so that disabled or locked accounts are rejected even while their
// tokens are still unexpired. Lookups are cached per username with a bounded
// TTL; there is no invalidation channel, stale entries simply age out.
type Resolver struct {
	dir Directory
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrincipal
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPrincipalTTL bounds the username -> principal cache.
func WithPrincipalTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver. A nil directory is allowed; Resolve then
// falls back to trusting claims verbatim.
func NewResolver(dir Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dir:   dir,
		ttl:   defaultPrincipalTTL,
		now:   time.Now,
		cache: make(map[string]cachedPrincipal),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces a Principal for the claim set. Resolution errors are never
// retried; the interceptor maps them to an authentication failure.
func (r *Resolver) Resolve(ctx context.Context, claims *token.Claims) (Principal, error) {
	if r.dir == nil {
		return r.ResolveFromClaims(claims)
	}

	username := claims.Subject
	if p, ok := r.cached(username); ok {
		p.Authorities = append([]string(nil), claims.Roles...)
		return p, nil
	}

	user, err := r.dir.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnknownSubject
		}
		return Principal{}, err
	}

	now := r.now()
	switch user.StatusAt(now) {
	case StatusLocked:
		return Principal{}, ErrAccountLocked
	case StatusDisabled:
		return Principal{}, ErrAccountDisabled
	}

	p := Principal{
		UserID:        user.ID,
		Username:      user.Username,
		Authorities:   append([]string(nil), claims.Roles...),
		AccountStatus: StatusActive,
	}
	r.store(username, p, now)
	return p, nil
}

// ResolveFromClaims trusts the claim set verbatim. Used when no directory is
// configured. The uid claim, when present, carries the stable user id; the
// subject stands in otherwise.
func (r *Resolver) ResolveFromClaims(claims *token.Claims) (Principal, error) {
	if claims == nil || claims.Subject == "" {
		return Principal{}, ErrUnknownSubject
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	return Principal{
		UserID:        userID,
		Username:      claims.Subject,
		Authorities:   append([]string(nil), claims.Roles...),
		AccountStatus: StatusActive,
	}, nil
}

func (r *Resolver) cached(username string) (Principal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[username]
	if !ok || !r.now().Before(entry.deadline) {
		delete(r.cache, username)
		return Principal{}, false
	}
	return entry.principal, true
}

func (r *Resolver) store(username string, p Principal, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[username] = cachedPrincipal{principal: p, deadline: now.Add(r.ttl)}
}
