package fabric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lattice.dev/internal/config"
)

// ErrBulkheadFull marks calls rejected because the peer's concurrency limit
// stayed saturated past the admission wait.
var ErrBulkheadFull = errors.New("fabric: bulkhead full")

// Bulkhead is a bounded-concurrency admission gate around one peer. Callers
// wait up to MaxWait for a slot; cancellation releases slots immediately.
type Bulkhead struct {
	peer    string
	sem     *semaphore.Weighted
	maxWait time.Duration
}

// NewBulkhead builds a bulkhead. Zero values fall back to the defaults
// (10 slots, 1s admission wait).
func NewBulkhead(peer string, cfg config.Bulkhead) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	return &Bulkhead{
		peer:    peer,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		maxWait: cfg.MaxWait,
	}
}

// Acquire claims a slot, waiting at most the admission window. The caller's
// own cancellation is reported as such, not as a full bulkhead.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()
	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBulkheadFull
	}
	return nil
}

// Release returns a slot.
func (b *Bulkhead) Release() {
	b.sem.Release(1)
}

// Unary wraps calls with the admission gate. Over-limit callers fail fast
// with Unavailable and a bulkhead message.
func (b *Bulkhead) Unary() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if err := b.Acquire(ctx); err != nil {
			if errors.Is(err, ErrBulkheadFull) {
				return status.Error(codes.Unavailable, fmt.Sprintf("bulkhead exhausted for peer %s", b.peer))
			}
			return status.FromContextError(err).Err()
		}
		defer b.Release()
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
