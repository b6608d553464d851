package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"lattice.dev/internal/cache"
	"lattice.dev/internal/config"
	"lattice.dev/internal/identity"
	"lattice.dev/internal/interceptor"
	"lattice.dev/internal/obs"
	"lattice.dev/internal/rpcserver"
	"lattice.dev/internal/token"
	"lattice.dev/internal/wire"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load("identity")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	codec, err := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience,
		token.WithAlgorithm(cfg.JWT.Algorithm),
		token.WithLeeway(cfg.JWT.Leeway),
	)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	var store identity.UserStore
	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = identity.NewPGStore(db)
	} else {
		store = identity.NewInMemoryStore()
	}

	var cacheStore cache.Store = cache.NewMemory()
	if cfg.Cache.RedisAddr != "" {
		if client := cache.DialRedis(cfg.Cache.RedisAddr); client != nil {
			cacheStore = cache.NewRedis(client, "identity:")
		} else {
			log.Printf("redis unreachable at %s, using in-process cache", cfg.Cache.RedisAddr)
		}
	}
	validation := cache.NewValidation(cacheStore, cfg.Cache.PostCreateTTL, cfg.Cache.PostLookupTTL)

	svc := identity.NewService(store, codec, validation, identity.WithTokenTTL(cfg.JWT.Expiration))
	resolver := identity.NewResolver(storeDirectory{store}, identity.WithPrincipalTTL(cfg.PrincipalTTL))

	policies := map[string]interceptor.Policy{
		wire.IdentityCreateUserMethod:  interceptor.Public(),
		wire.IdentityLoginMethod:       interceptor.Public(),
		wire.IdentityHealthCheckMethod: interceptor.Public(),
		wire.IdentityGetUserMethod:     interceptor.RequireAuthenticated(),
		wire.IdentityValidateUserMethod: interceptor.RequireAuthenticated(),
		wire.IdentityUpdateUserProfileMethod: interceptor.SelfOrAuthority(func(req any) string {
			if r, ok := req.(*wire.UpdateUserProfileRequest); ok {
				return r.UserID
			}
			return ""
		}, "admin"),
	}
	auth := interceptor.NewAuthenticator(codec, resolver, cfg.Security, policies)

	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(16<<20),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 10 * time.Second, PermitWithoutStream: true}),
		grpc.ChainUnaryInterceptor(
			obs.Instrument(),
			interceptor.UnaryRecovery(),
			interceptor.UnaryCorrelation(),
			interceptor.UnaryRateLimit(
				[]string{wire.IdentityCreateUserMethod, wire.IdentityLoginMethod},
				cfg.RateLimitPerSecond, cfg.RateLimitBurst,
			),
			auth.Unary(),
		),
	)
	wire.RegisterIdentityServiceServer(server, rpcserver.NewIdentityServer(svc, version))

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	metrics := obs.ServeMetrics(cfg.MetricsAddr)

	log.Printf("starting identity-service %s on %s", version, cfg.ListenAddr)
	go func() {
		if err := server.Serve(listener); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	server.GracefulStop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metrics.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("stopped")
}

// storeDirectory narrows the user store to the directory interface the
// resolver consumes.
type storeDirectory struct {
	store identity.UserStore
}

func (d storeDirectory) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return d.store.FindByUsername(ctx, username)
}
