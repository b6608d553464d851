// Package fabric provides the client-side channel machinery: long-lived
// connections with keep-alive and transport retry, plus the application-level
// circuit breaker and bulkhead wrappers. The policies are independent state
// machines composed as explicit interceptors; decoration order on an outgoing
// call is bulkhead, breaker, deadline, then the auth/correlation chain.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lattice.dev/internal/config"
	"lattice.dev/internal/obs"
)

// ErrCircuitOpen marks calls rejected while the breaker is open. It is
// distinguishable from transport failure by error identity.
var ErrCircuitOpen = errors.New("fabric: circuit open")

// BreakerState enumerates the three breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a sliding-window circuit breaker for one peer. With fewer than
// MinCalls observations it never trips.
type Breaker struct {
	peer string
	cfg  config.Breaker
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	window   []bool // outcome ring, true = failure
	openedAt time.Time

	halfOpenAdmitted int
	halfOpenResults  []bool
}

// NewBreaker builds a breaker with the peer's configuration. Zero values fall
// back to the defaults (window 10, min 5, rate 0.5, open 10s, 5 trials).
func NewBreaker(peer string, cfg config.Breaker, nowFns ...func() time.Time) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.MinCalls <= 0 {
		cfg.MinCalls = 5
	}
	if cfg.FailureRate <= 0 {
		cfg.FailureRate = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 10 * time.Second
	}
	if cfg.HalfOpenCalls <= 0 {
		cfg.HalfOpenCalls = 5
	}
	b := &Breaker{peer: peer, cfg: cfg, now: time.Now}
	if len(nowFns) > 0 && nowFns[0] != nil {
		b.now = nowFns[0]
	}
	obs.SetBreakerState(peer, float64(StateClosed))
	return b
}

// State reports the current state, applying the open -> half-open timeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed. In half-open state at most
// HalfOpenCalls trial calls are admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenAdmitted >= b.cfg.HalfOpenCalls {
			return ErrCircuitOpen
		}
		b.halfOpenAdmitted++
		return nil
	default:
		return ErrCircuitOpen
	}
}

// Record feeds a call outcome back into the state machine.
func (b *Breaker) Record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.window = append(b.window, failure)
		if len(b.window) > b.cfg.Window {
			b.window = b.window[len(b.window)-b.cfg.Window:]
		}
		if len(b.window) >= b.cfg.MinCalls && failureRate(b.window) >= b.cfg.FailureRate {
			b.trip()
		}
	case StateHalfOpen:
		b.halfOpenResults = append(b.halfOpenResults, failure)
		if len(b.halfOpenResults) >= b.cfg.HalfOpenCalls {
			if failureRate(b.halfOpenResults) <= b.cfg.FailureRate {
				b.reset()
			} else {
				b.trip()
			}
		}
	}
	// Outcomes arriving while open are late results of earlier calls; they
	// carry no new information.
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cfg.OpenFor)) {
		b.state = StateHalfOpen
		b.halfOpenAdmitted = 0
		b.halfOpenResults = nil
		obs.SetBreakerState(b.peer, float64(StateHalfOpen))
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.window = nil
	b.halfOpenAdmitted = 0
	b.halfOpenResults = nil
	obs.SetBreakerState(b.peer, float64(StateOpen))
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.window = nil
	b.halfOpenAdmitted = 0
	b.halfOpenResults = nil
	obs.SetBreakerState(b.peer, float64(StateClosed))
}

func failureRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, failed := range outcomes {
		if failed {
			failures++
		}
	}
	return float64(failures) / float64(len(outcomes))
}

// Unary wraps calls with the breaker. Open-state rejections surface as
// Unavailable with a circuit-open message so they are distinguishable from
// transport failures.
func (b *Breaker) Unary() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if err := b.Allow(); err != nil {
			return status.Error(codes.Unavailable, fmt.Sprintf("circuit open for peer %s", b.peer))
		}
		err := invoker(ctx, method, req, reply, cc, opts...)
		b.Record(isInfrastructureFailure(err))
		return err
	}
}

// isInfrastructureFailure decides which outcomes count against the window.
// Business rejections (NotFound, InvalidArgument, ...) say nothing about the
// peer's health.
func isInfrastructureFailure(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
