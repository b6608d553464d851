package fabric

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"lattice.dev/internal/config"
	"lattice.dev/internal/wire"
)

const (
	keepaliveTime    = 30 * time.Second
	keepaliveTimeout = 10 * time.Second
)

type serviceConfig struct {
	LoadBalancingConfig []map[string]struct{} `json:"loadBalancingConfig"`
	MethodConfig        []methodConfig        `json:"methodConfig"`
}

type methodConfig struct {
	Name        []methodName `json:"name"`
	RetryPolicy *retryPolicy `json:"retryPolicy,omitempty"`
}

type methodName struct {
	Service string `json:"service,omitempty"`
	Method  string `json:"method,omitempty"`
}

type retryPolicy struct {
	MaxAttempts          int      `json:"maxAttempts"`
	InitialBackoff       string   `json:"initialBackoff"`
	MaxBackoff           string   `json:"maxBackoff"`
	BackoffMultiplier    float64  `json:"backoffMultiplier"`
	RetryableStatusCodes []string `json:"retryableStatusCodes"`
}

// buildServiceConfig emits the gRPC service config for one peer: round-robin
// balancing, and the transport retry policy applied only to the idempotent
// methods the caller lists. Mutating methods stay non-retryable.
func buildServiceConfig(peer config.Peer, retryableMethods []string) (string, error) {
	sc := serviceConfig{
		LoadBalancingConfig: []map[string]struct{}{{"round_robin": {}}},
	}
	if len(retryableMethods) > 0 {
		names := make([]methodName, 0, len(retryableMethods))
		for _, full := range retryableMethods {
			service, method, err := splitFullMethod(full)
			if err != nil {
				return "", err
			}
			names = append(names, methodName{Service: service, Method: method})
		}
		sc.MethodConfig = append(sc.MethodConfig, methodConfig{
			Name: names,
			RetryPolicy: &retryPolicy{
				MaxAttempts:          peer.Retry.MaxAttempts,
				InitialBackoff:       grpcDuration(peer.Retry.InitialBackoff),
				MaxBackoff:           grpcDuration(peer.Retry.MaxBackoff),
				BackoffMultiplier:    peer.Retry.Multiplier,
				RetryableStatusCodes: []string{"UNAVAILABLE", "DEADLINE_EXCEEDED"},
			},
		})
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Dial opens the long-lived channel to a peer. The interceptor chain is
// composed outer-in: bulkhead, circuit breaker, deadline, then the extra
// (correlation and token) interceptors; the transport retry policy runs per
// attempt underneath. Cancellation propagates downward through the chain.
func Dial(peer config.Peer, bulkhead *Bulkhead, breaker *Breaker, retryableMethods []string, extra ...grpc.UnaryClientInterceptor) (*grpc.ClientConn, error) {
	sc, err := buildServiceConfig(peer, retryableMethods)
	if err != nil {
		return nil, fmt.Errorf("fabric: service config for %s: %w", peer.Name, err)
	}

	chain := []grpc.UnaryClientInterceptor{
		bulkhead.Unary(),
		breaker.Unary(),
		unaryDeadline(peer.Deadline, peer.SoftLimit),
	}
	chain = append(chain, extra...)

	opts := []grpc.DialOption{
		grpc.WithDefaultServiceConfig(sc),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			wire.CallOption(),
			grpc.MaxCallRecvMsgSize(peer.MaxRecvMiB<<20),
		),
		grpc.WithChainUnaryInterceptor(chain...),
	}
	if peer.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return grpc.NewClient(peer.Address, opts...)
}

// unaryDeadline enforces the per-call default deadline and the peer's soft
// time limit. A call that outlives the soft limit is cancelled and surfaces
// as DeadlineExceeded.
func unaryDeadline(deadline, softLimit time.Duration) grpc.UnaryClientInterceptor {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deadline)
			defer cancel()
		}
		if softLimit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, softLimit)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func splitFullMethod(full string) (service, method string, err error) {
	trimmed := strings.TrimPrefix(full, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("fabric: invalid method name %q", full)
	}
	return parts[0], parts[1], nil
}

func grpcDuration(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}
