package rpcserver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"lattice.dev/internal/cache"
	"lattice.dev/internal/config"
	"lattice.dev/internal/fabric"
	"lattice.dev/internal/gateway"
	"lattice.dev/internal/identity"
	"lattice.dev/internal/interceptor"
	"lattice.dev/internal/order"
	"lattice.dev/internal/token"
	"lattice.dev/internal/wire"
)

const bufSize = 1024 * 1024

var testSecret = bytes.Repeat([]byte{0x42}, 32)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock *fakeClock
	codec *token.Codec

	userStore  *identity.InMemoryStore
	orderStore *order.InMemoryStore
	breaker    *fabric.Breaker

	identityConn *grpc.ClientConn
	orderConn    *grpc.ClientConn
}

func security() config.Security {
	return config.Security{ServerMode: config.ServerModeFull}
}

func startBufServer(t *testing.T, register func(*grpc.Server), auth *interceptor.Authenticator) *bufconn.Listener {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		interceptor.UnaryRecovery(),
		interceptor.UnaryCorrelation(),
		auth.Unary(),
	))
	register(server)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()
	t.Cleanup(func() {
		server.GracefulStop()
		_ = listener.Close()
	})
	return listener
}

func dialBuf(t *testing.T, listener *bufconn.Listener, chain ...grpc.UnaryClientInterceptor) *grpc.ClientConn {
	t.Helper()
	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(wire.CallOption()),
	}
	if len(chain) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(chain...))
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()

	codec, err := token.NewCodec(testSecret, "lattice-identity", "lattice-services",
		token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	// Identity service.
	userStore := identity.NewInMemoryStore()
	validation := cache.NewValidation(cache.NewMemoryWithClock(clock.Now), 24*time.Hour, 30*time.Minute)
	identitySvc := identity.NewService(userStore, codec, validation,
		identity.WithTokenTTL(time.Hour), identity.WithServiceClock(clock.Now))
	identityResolver := identity.NewResolver(directory{userStore},
		identity.WithResolverClock(clock.Now))

	identityPolicies := map[string]interceptor.Policy{
		wire.IdentityCreateUserMethod:   interceptor.Public(),
		wire.IdentityLoginMethod:        interceptor.Public(),
		wire.IdentityHealthCheckMethod:  interceptor.Public(),
		wire.IdentityGetUserMethod:      interceptor.RequireAuthenticated(),
		wire.IdentityValidateUserMethod: interceptor.RequireAuthenticated(),
	}
	identityAuth := interceptor.NewAuthenticator(codec, identityResolver, security(), identityPolicies)
	identityListener := startBufServer(t, func(s *grpc.Server) {
		wire.RegisterIdentityServiceServer(s, NewIdentityServer(identitySvc, "test"))
	}, identityAuth)

	// Order service, reaching IS through the fabric wrappers.
	breaker := fabric.NewBreaker("identity", config.Breaker{}, clock.Now)
	bulkhead := fabric.NewBulkhead("identity", config.Bulkhead{})
	tokens := interceptor.NewTokenSource(codec, config.ClientModePropagate, time.Hour)
	identityConnForOrders := dialBuf(t, identityListener,
		bulkhead.Unary(),
		breaker.Unary(),
		interceptor.UnaryClientCorrelation(),
		tokens.Unary(),
	)

	orderStore := order.NewInMemoryStore()
	validator := gateway.NewIdentityGateway(wire.NewIdentityClient(identityConnForOrders))
	saga := order.NewSaga(orderStore, validator, nil)
	orderSvc := order.NewService(orderStore, saga, cache.NewMemoryWithClock(clock.Now))

	userIDOf := func(req any) string {
		switch r := req.(type) {
		case *wire.CreateOrderRequest:
			return r.UserID
		case *wire.ListUserOrdersRequest:
			return r.UserID
		}
		return ""
	}
	orderPolicies := map[string]interceptor.Policy{
		wire.OrderHealthCheckMethod:    interceptor.Public(),
		wire.OrderCreateOrderMethod:    interceptor.SelfOrAuthority(userIDOf, order.AdminAuthority),
		wire.OrderListUserOrdersMethod: interceptor.SelfOrAuthority(userIDOf, order.AdminAuthority),
	}
	orderResolver := identity.NewResolver(nil)
	orderAuth := interceptor.NewAuthenticator(codec, orderResolver, security(), orderPolicies)
	orderListener := startBufServer(t, func(s *grpc.Server) {
		wire.RegisterOrderServiceServer(s, NewOrderServer(orderSvc, "test"))
	}, orderAuth)

	return &fixture{
		clock:        clock,
		codec:        codec,
		userStore:    userStore,
		orderStore:   orderStore,
		breaker:      breaker,
		identityConn: dialBuf(t, identityListener),
		orderConn:    dialBuf(t, orderListener),
	}
}

type directory struct {
	store identity.UserStore
}

func (d directory) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return d.store.FindByUsername(ctx, username)
}

func (f *fixture) seedUser(t *testing.T, username string, emailVerified bool) *identity.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Password@1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := &identity.User{
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  string(hash),
		Roles:         []string{"user"},
		Active:        true,
		EmailVerified: emailVerified,
	}
	if err := f.userStore.Create(context.Background(), u); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return u
}

func (f *fixture) bearerCtx(t *testing.T, u *identity.User) context.Context {
	t.Helper()
	signed, err := f.codec.Issue(u.Username, u.ID, []string{"user"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(),
		"authorization", "Bearer "+signed)
}

func ctxWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateUserHappyPathAndDuplicate(t *testing.T) {
	f := newFixture(t)
	client := wire.NewIdentityClient(f.identityConn)
	ctx := ctxWithTimeout(t)

	req := &wire.CreateUserRequest{
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  "Alice@123",
		FirstName: "Alice",
		LastName:  "Johnson",
	}
	resp, err := client.CreateUser(ctx, req)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if resp.Username != "alice" || !resp.IsActive || resp.IsEmailVerified || resp.UserID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := client.CreateUser(ctx, req); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("duplicate create: got %v", err)
	}
}

func TestCreateUserInputValidationOverTheWire(t *testing.T) {
	f := newFixture(t)
	client := wire.NewIdentityClient(f.identityConn)
	ctx := ctxWithTimeout(t)

	bad := []*wire.CreateUserRequest{
		{Username: "x", Email: "no-at-sign", Password: "Password1"},
		{Username: "x", Email: "x@example.com", Password: "short7!"},
		{Username: "", Email: "x@example.com", Password: "Password1"},
	}
	for i, req := range bad {
		if _, err := client.CreateUser(ctx, req); status.Code(err) != codes.InvalidArgument {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
}

func TestAuthenticatedGetUserAndExpiry(t *testing.T) {
	f := newFixture(t)
	client := wire.NewIdentityClient(f.identityConn)
	alice := f.seedUser(t, "alice", true)

	authed := f.bearerCtx(t, alice)
	resp, err := client.GetUser(authed, &wire.GetUserRequest{UserID: alice.ID})
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if resp.Username != "alice" {
		t.Fatalf("unexpected user: %+v", resp)
	}

	// The same token 61 minutes later (ttl is one hour) is expired.
	f.clock.Advance(61 * time.Minute)
	_, err = client.GetUser(authed, &wire.GetUserRequest{UserID: alice.ID})
	st, _ := status.FromError(err)
	if st.Code() != codes.Unauthenticated || st.Message() != "token expired" {
		t.Fatalf("expected Unauthenticated token expired, got %v", err)
	}
}

func TestGetUserWithoutTokenCarriesCorrelationTrailer(t *testing.T) {
	f := newFixture(t)
	client := wire.NewIdentityClient(f.identityConn)
	ctx := ctxWithTimeout(t)

	var trailer metadata.MD
	_, err := client.GetUser(ctx, &wire.GetUserRequest{UserID: "u-x"}, grpc.Trailer(&trailer))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if got := trailer.Get(interceptor.CorrelationIDKey); len(got) != 1 || got[0] == "" {
		t.Fatalf("error response is missing the correlation trailer: %v", trailer)
	}
}

func TestOrderSagaWithValidUser(t *testing.T) {
	f := newFixture(t)
	client := wire.NewOrderClient(f.orderConn)
	alice := f.seedUser(t, "alice", true)

	resp, err := client.CreateOrder(f.bearerCtx(t, alice), &wire.CreateOrderRequest{
		UserID: alice.ID,
		Items: []wire.OrderItem{
			{ProductID: "P-001", Name: "Laptop", Quantity: 1, UnitPrice: 99999},
			{ProductID: "P-002", Name: "Mouse", Quantity: 2, UnitPrice: 2999},
		},
		ShippingAddress: "1 Main St",
		PaymentMethod:   "CREDIT_CARD",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if resp.Status != "CONFIRMED" || resp.SagaState != "COMPLETED" {
		t.Fatalf("final order state: %s/%s", resp.Status, resp.SagaState)
	}
	if resp.TotalAmount != 105997 {
		t.Fatalf("total: %d", resp.TotalAmount)
	}

	persisted, err := f.orderStore.FindByID(context.Background(), resp.OrderID)
	if err != nil {
		t.Fatalf("persisted order: %v", err)
	}
	if persisted.SagaState != order.SagaCompleted {
		t.Fatalf("persisted saga state: %s", persisted.SagaState)
	}
}

func TestOrderSagaWithUnverifiedUser(t *testing.T) {
	f := newFixture(t)
	client := wire.NewOrderClient(f.orderConn)
	bob := f.seedUser(t, "bob", false)

	_, err := client.CreateOrder(f.bearerCtx(t, bob), &wire.CreateOrderRequest{
		UserID: bob.ID,
		Items:  []wire.OrderItem{{ProductID: "P-001", Name: "Laptop", Quantity: 1, UnitPrice: 99999}},
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	// The compensated order row is persisted.
	page, _, err := f.orderStore.ListByUser(context.Background(), bob.ID, 10, 0)
	if err != nil || len(page) != 1 {
		t.Fatalf("compensated order not persisted: %v %v", page, err)
	}
	if page[0].Status != order.StatusCancelled || page[0].SagaState != order.SagaFailed {
		t.Fatalf("compensated state: %s/%s", page[0].Status, page[0].SagaState)
	}
}

func TestOrderSagaWhenIdentityCircuitOpen(t *testing.T) {
	f := newFixture(t)
	client := wire.NewOrderClient(f.orderConn)
	alice := f.seedUser(t, "alice", true)

	// Force the breaker open; CreateOrder must compensate and report
	// Unavailable without consulting IS.
	for i := 0; i < 5; i++ {
		f.breaker.Record(true)
	}

	_, err := client.CreateOrder(f.bearerCtx(t, alice), &wire.CreateOrderRequest{
		UserID: alice.ID,
		Items:  []wire.OrderItem{{ProductID: "P-001", Name: "Laptop", Quantity: 1, UnitPrice: 99999}},
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}

	page, _, err := f.orderStore.ListByUser(context.Background(), alice.ID, 10, 0)
	if err != nil || len(page) != 1 {
		t.Fatalf("compensated order not persisted: %v %v", page, err)
	}
	if page[0].Status != order.StatusCancelled || page[0].SagaState != order.SagaFailed {
		t.Fatalf("compensated state: %s/%s", page[0].Status, page[0].SagaState)
	}
}

func TestCreateOrderForAnotherUserIsDenied(t *testing.T) {
	f := newFixture(t)
	client := wire.NewOrderClient(f.orderConn)
	alice := f.seedUser(t, "alice", true)
	mallory := f.seedUser(t, "mallory", true)

	_, err := client.CreateOrder(f.bearerCtx(t, alice), &wire.CreateOrderRequest{
		UserID: mallory.ID,
		Items:  []wire.OrderItem{{ProductID: "P-001", Name: "Laptop", Quantity: 1, UnitPrice: 99999}},
	})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestHealthChecksArePublic(t *testing.T) {
	f := newFixture(t)
	ctx := ctxWithTimeout(t)

	ih, err := wire.NewIdentityClient(f.identityConn).HealthCheck(ctx, &wire.HealthCheckRequest{})
	if err != nil || ih.Status != "SERVING" {
		t.Fatalf("identity health: %v %v", ih, err)
	}
	oh, err := wire.NewOrderClient(f.orderConn).HealthCheck(ctx, &wire.HealthCheckRequest{})
	if err != nil || oh.Status != "SERVING" {
		t.Fatalf("order health: %v %v", oh, err)
	}
}
