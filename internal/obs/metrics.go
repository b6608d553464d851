package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	rpcInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grpc_server_in_flight_requests",
		Help: "In-flight gRPC requests.",
	})

	rpcHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of RPCs completed on the server, by method and code.",
		},
		[]string{"method", "code"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "gRPC request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per peer (0=closed, 1=open, 2=half-open).",
		},
		[]string{"peer"},
	)
)

// Init registers metrics in the default registry. Call once per process.
func Init() {
	prometheus.MustRegister(rpcInFlight, rpcHandledTotal, rpcDuration, breakerState)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBreakerState records the breaker state for a peer.
func SetBreakerState(peer string, state float64) {
	breakerState.WithLabelValues(peer).Set(state)
}

// Instrument measures RPS, latency and in-flight count for every unary call.
func Instrument() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rpcInFlight.Inc()
		start := time.Now()

		resp, err := handler(ctx, req)

		code := status.Code(err).String()
		rpcDuration.WithLabelValues(info.FullMethod, code).Observe(time.Since(start).Seconds())
		rpcHandledTotal.WithLabelValues(info.FullMethod, code).Inc()
		rpcInFlight.Dec()
		return resp, err
	}
}

// ServeMetrics starts the sidecar HTTP listener for /metrics. It returns the
// server so the caller can shut it down.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger().Printf(`{"level":"error","msg":"metrics listener failed: %v"}`, err)
		}
	}()
	return srv
}
