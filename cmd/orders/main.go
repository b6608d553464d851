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
	"lattice.dev/internal/fabric"
	"lattice.dev/internal/gateway"
	"lattice.dev/internal/identity"
	"lattice.dev/internal/interceptor"
	"lattice.dev/internal/obs"
	"lattice.dev/internal/order"
	"lattice.dev/internal/rpcserver"
	"lattice.dev/internal/token"
	"lattice.dev/internal/wire"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load("orders")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	identityPeer, err := config.LoadPeer("identity")
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

	var store order.Store
	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = order.NewPGStore(db)
	} else {
		store = order.NewInMemoryStore()
	}

	var respCache cache.Store = cache.NewMemory()
	if cfg.Cache.RedisAddr != "" {
		if client := cache.DialRedis(cfg.Cache.RedisAddr); client != nil {
			respCache = cache.NewRedis(client, "orders:")
		} else {
			log.Printf("redis unreachable at %s, using in-process cache", cfg.Cache.RedisAddr)
		}
	}

	// Channel fabric towards IS: bulkhead, breaker, deadline, then the
	// correlation and token client stages. Only read-side methods retry.
	bulkhead := fabric.NewBulkhead(identityPeer.Name, identityPeer.Bulkhead)
	breaker := fabric.NewBreaker(identityPeer.Name, identityPeer.Breaker)
	tokens := interceptor.NewTokenSource(codec, cfg.Security.ClientMode, cfg.JWT.Expiration)
	conn, err := fabric.Dial(identityPeer, bulkhead, breaker,
		[]string{wire.IdentityValidateUserMethod, wire.IdentityGetUserMethod, wire.IdentityHealthCheckMethod},
		interceptor.UnaryClientCorrelation(),
		tokens.Unary(),
	)
	if err != nil {
		log.Fatalf("dial identity: %v", err)
	}
	defer conn.Close()

	var events order.EventPublisher
	if cfg.RabbitURL != "" {
		events = order.NewRabbitPublisher(cfg.RabbitURL)
	}

	validator := gateway.NewIdentityGateway(wire.NewIdentityClient(conn))
	saga := order.NewSaga(store, validator, events)
	svc := order.NewService(store, saga, respCache)

	resolver := identity.NewResolver(nil, identity.WithPrincipalTTL(cfg.PrincipalTTL))

	userIDOf := func(req any) string {
		switch r := req.(type) {
		case *wire.CreateOrderRequest:
			return r.UserID
		case *wire.ListUserOrdersRequest:
			return r.UserID
		}
		return ""
	}
	policies := map[string]interceptor.Policy{
		wire.OrderHealthCheckMethod:       interceptor.Public(),
		wire.OrderCreateOrderMethod:       interceptor.SelfOrAuthority(userIDOf, order.AdminAuthority),
		wire.OrderListUserOrdersMethod:    interceptor.SelfOrAuthority(userIDOf, order.AdminAuthority),
		wire.OrderGetOrderMethod:          interceptor.RequireAuthenticated(),
		wire.OrderUpdateOrderStatusMethod: interceptor.RequireAuthenticated(),
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
			auth.Unary(),
		),
	)
	wire.RegisterOrderServiceServer(server, rpcserver.NewOrderServer(svc, version))

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	metrics := obs.ServeMetrics(cfg.MetricsAddr)

	log.Printf("starting order-service %s on %s (identity peer %s)", version, cfg.ListenAddr, identityPeer.Address)
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
