// Package config loads runtime configuration from environment variables.
// Both services read the same surface; a .env file is honored when present so
// local development does not need exported variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerMode selects how the server interceptor chain treats inbound tokens.
type ServerMode string

// ClientMode selects how the client interceptor chain attaches tokens.
type ClientMode string

const (
	ServerModeNone            ServerMode = "NONE"
	ServerModeBasicValidation ServerMode = "BASIC_VALIDATION"
	ServerModeFull            ServerMode = "FULL"

	ClientModeNone      ClientMode = "NONE"
	ClientModePropagate ClientMode = "PROPAGATE"
	ClientModeValidate  ClientMode = "VALIDATE"
)

const minSecretBytes = 32

// JWT holds token codec configuration.
type JWT struct {
	Secret     []byte
	Issuer     string
	Audience   string
	Expiration time.Duration
	Algorithm  string
	Leeway     time.Duration
}

// Security holds interceptor chain configuration.
type Security struct {
	ServerMode      ServerMode
	ClientMode      ClientMode
	ExcludedMethods []string
}

// Breaker holds circuit breaker settings for one peer.
type Breaker struct {
	Window        int
	MinCalls      int
	FailureRate   float64
	OpenFor       time.Duration
	HalfOpenCalls int
}

// Bulkhead holds concurrent-call admission settings for one peer.
type Bulkhead struct {
	MaxConcurrent int64
	MaxWait       time.Duration
}

// Retry holds the transport retry policy knobs for one peer.
type Retry struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Peer describes a long-lived channel to a named remote service.
type Peer struct {
	Name       string
	Address    string
	TLS        bool
	Deadline   time.Duration
	SoftLimit  time.Duration
	MaxRecvMiB int
	Breaker    Breaker
	Bulkhead   Bulkhead
	Retry      Retry
}

// ValidationCache holds the read-through cache TTLs.
type ValidationCache struct {
	PostCreateTTL time.Duration
	PostLookupTTL time.Duration
	RedisAddr     string
}

// Config is the full configuration surface for one service process.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	PGDSN       string
	RabbitURL   string

	JWT      JWT
	Security Security
	Cache    ValidationCache

	// PrincipalTTL bounds the resolver's username -> principal cache.
	PrincipalTTL time.Duration

	// RateLimitPerSecond / RateLimitBurst guard public methods.
	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads the configuration for the named service ("identity" or "orders").
// A .env file in the working directory is loaded first when it exists.
func Load(service string) (Config, error) {
	_ = godotenv.Load()

	secret, err := decodeSecret(mustEnv("JWT_SECRET"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:  getenv("LISTEN_ADDR", defaultListen(service)),
		MetricsAddr: getenv("METRICS_ADDR", defaultMetrics(service)),
		PGDSN:       os.Getenv("PG_DSN"),
		RabbitURL:   os.Getenv("RABBITMQ_URL"),
		JWT: JWT{
			Secret:     secret,
			Issuer:     mustEnv("JWT_ISSUER"),
			Audience:   mustEnv("JWT_AUDIENCE"),
			Expiration: time.Duration(atoi(getenv("JWT_EXPIRATION_MS", "86400000"))) * time.Millisecond,
			Algorithm:  getenv("JWT_ALGORITHM", "HS512"),
			Leeway:     time.Duration(atoi(getenv("JWT_LEEWAY_MS", "0"))) * time.Millisecond,
		},
		Security: Security{
			ServerMode:      ServerMode(getenv("SECURITY_GRPC_SERVER_MODE", string(ServerModeFull))),
			ClientMode:      ClientMode(getenv("SECURITY_GRPC_CLIENT_MODE", string(ClientModePropagate))),
			ExcludedMethods: splitList(os.Getenv("SECURITY_GRPC_EXCLUDED_METHODS")),
		},
		Cache: ValidationCache{
			PostCreateTTL: parseDur(getenv("CACHE_VALIDATION_TTL_POST_CREATE", "24h")),
			PostLookupTTL: parseDur(getenv("CACHE_VALIDATION_TTL_POST_LOOKUP", "30m")),
			RedisAddr:     os.Getenv("REDIS_ADDR"),
		},
		PrincipalTTL:       parseDur(getenv("PRINCIPAL_CACHE_TTL", "5m")),
		RateLimitPerSecond: atoi(getenv("RATE_LIMIT_PER_SECOND", "20")),
		RateLimitBurst:     atoi(getenv("RATE_LIMIT_BURST", "40")),
	}

	switch cfg.Security.ServerMode {
	case ServerModeNone, ServerModeBasicValidation, ServerModeFull:
	default:
		return Config{}, fmt.Errorf("config: unknown server mode %q", cfg.Security.ServerMode)
	}
	switch cfg.Security.ClientMode {
	case ClientModeNone, ClientModePropagate, ClientModeValidate:
	default:
		return Config{}, fmt.Errorf("config: unknown client mode %q", cfg.Security.ClientMode)
	}
	return cfg, nil
}

// LoadPeer reads channel, breaker, retry and bulkhead settings for one named
// peer. Environment keys follow CHANNEL_<PEER>_*, CIRCUIT_BREAKER_<PEER>_*,
// RETRY_<PEER>_* and BULKHEAD_<PEER>_*.
func LoadPeer(name string) (Peer, error) {
	key := strings.ToUpper(name)
	address := os.Getenv("CHANNEL_" + key + "_ADDRESS")
	if address == "" {
		return Peer{}, fmt.Errorf("config: no address configured for peer %q", name)
	}
	p := Peer{
		Name:       name,
		Address:    address,
		TLS:        boolenv("CHANNEL_"+key+"_TLS", false),
		Deadline:   parseDur(getenv("CHANNEL_"+key+"_DEADLINE", "10s")),
		SoftLimit:  parseDur(getenv("CHANNEL_"+key+"_SOFT_LIMIT", "0s")),
		MaxRecvMiB: clampMiB(atoi(getenv("CHANNEL_"+key+"_MAX_RECV_MIB", "16"))),
		Breaker: Breaker{
			Window:        atoi(getenv("CIRCUIT_BREAKER_"+key+"_WINDOW", "10")),
			MinCalls:      atoi(getenv("CIRCUIT_BREAKER_"+key+"_MIN_CALLS", "5")),
			FailureRate:   fatof(getenv("CIRCUIT_BREAKER_"+key+"_FAILURE_RATE", "0.5")),
			OpenFor:       parseDur(getenv("CIRCUIT_BREAKER_"+key+"_OPEN_FOR", "10s")),
			HalfOpenCalls: atoi(getenv("CIRCUIT_BREAKER_"+key+"_HALF_OPEN_CALLS", "5")),
		},
		Bulkhead: Bulkhead{
			MaxConcurrent: int64(atoi(getenv("BULKHEAD_"+key+"_MAX_CONCURRENT", "10"))),
			MaxWait:       parseDur(getenv("BULKHEAD_"+key+"_MAX_WAIT", "1s")),
		},
		Retry: Retry{
			MaxAttempts:    atoi(getenv("RETRY_"+key+"_MAX_ATTEMPTS", "3")),
			InitialBackoff: parseDur(getenv("RETRY_"+key+"_INITIAL_BACKOFF", "500ms")),
			MaxBackoff:     parseDur(getenv("RETRY_"+key+"_MAX_BACKOFF", "2s")),
			Multiplier:     fatof(getenv("RETRY_"+key+"_MULTIPLIER", "2")),
		},
	}
	return p, nil
}

func decodeSecret(raw string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("config: JWT_SECRET is not valid base64: %w", err)
	}
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("config: JWT_SECRET must decode to at least %d bytes", minSecretBytes)
	}
	return secret, nil
}

func defaultListen(service string) string {
	if service == "orders" {
		return ":9091"
	}
	return ":9090"
}

func defaultMetrics(service string) string {
	if service == "orders" {
		return ":2113"
	}
	return ":2112"
}

func clampMiB(n int) int {
	if n < 4 {
		return 4
	}
	if n > 20 {
		return 20
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		fmt.Fprintf(os.Stderr, "missing required env var: %s\n", key)
		os.Exit(1)
	}
	return v
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolenv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func fatof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
