package identity

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lattice.dev/internal/cache"
	"lattice.dev/internal/token"
)

func testService(t *testing.T, store UserStore) *Service {
	t.Helper()
	codec, err := token.NewCodec(bytes.Repeat([]byte{0x42}, 32), "lattice-identity", "lattice-services")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	validation := cache.NewValidation(cache.NewMemory(), 24*time.Hour, 30*time.Minute)
	return NewService(store, codec, validation)
}

func validCreate() CreateUserParams {
	return CreateUserParams{
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  "Alice@123",
		FirstName: "Alice",
		LastName:  "Johnson",
	}
}

func TestCreateUserHappyPath(t *testing.T) {
	svc := testService(t, NewInMemoryStore())

	user, err := svc.CreateUser(context.Background(), validCreate())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected a generated user id")
	}
	if user.Username != "alice" || !user.Active || user.EmailVerified {
		t.Fatalf("unexpected user state: %+v", user)
	}

	// A second identical call hits the uniqueness constraint.
	if _, err := svc.CreateUser(context.Background(), validCreate()); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := testService(t, NewInMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateUserParams)
	}{
		{"empty username", func(p *CreateUserParams) { p.Username = "  " }},
		{"email without at sign", func(p *CreateUserParams) { p.Email = "alice.example.com" }},
		{"seven character password", func(p *CreateUserParams) { p.Password = "Abcd@12" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validCreate()
			tc.mutate(&p)
			if _, err := svc.CreateUser(ctx, p); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	// Exactly eight characters is accepted.
	p := validCreate()
	p.Password = "Abcd@123"
	if _, err := svc.CreateUser(ctx, p); err != nil {
		t.Fatalf("eight-character password rejected: %v", err)
	}
}

type countingStore struct {
	UserStore
	findByID int
}

func (s *countingStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.findByID++
	return s.UserStore.FindByID(ctx, id)
}

func TestValidateUserReadThrough(t *testing.T) {
	mem := NewInMemoryStore()
	counting := &countingStore{UserStore: mem}
	svc := testService(t, counting)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, validCreate())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// The post-creation warm entry answers without touching the store.
	valid, err := svc.ValidateUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ValidateUser: %v", err)
	}
	if valid {
		t.Fatal("unverified email must not be valid for orders")
	}
	if counting.findByID != 0 {
		t.Fatalf("expected warm cache hit, store was consulted %d times", counting.findByID)
	}

	// Consecutive calls within TTL agree.
	again, err := svc.ValidateUser(ctx, user.ID)
	if err != nil || again != valid {
		t.Fatalf("second call disagreed: %v %v", again, err)
	}
}

func TestValidateUserUnknownIsInvalid(t *testing.T) {
	svc := testService(t, NewInMemoryStore())
	valid, err := svc.ValidateUser(context.Background(), "no-such-user")
	if err != nil {
		t.Fatalf("ValidateUser: %v", err)
	}
	if valid {
		t.Fatal("unknown user reported valid")
	}
}

func TestValidateUserCacheFailureIsNonFatal(t *testing.T) {
	mem := NewInMemoryStore()
	codec, err := token.NewCodec(bytes.Repeat([]byte{0x42}, 32), "lattice-identity", "lattice-services")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	validation := cache.NewValidation(failingCacheStore{}, 0, 0)
	svc := NewService(mem, codec, validation)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, validCreate())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.ValidateUser(ctx, user.ID); err != nil {
		t.Fatalf("cache failure must fall through to the directory: %v", err)
	}
}

type failingCacheStore struct{}

func (failingCacheStore) Get(context.Context, string) (string, bool, error) {
	return "", false, cache.ErrUnavailable
}
func (failingCacheStore) Set(context.Context, string, string, time.Duration) error {
	return cache.ErrUnavailable
}

func TestLoginIssuesToken(t *testing.T) {
	svc := testService(t, NewInMemoryStore())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, validCreate()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	signed, user, err := svc.Login(ctx, "alice", "Alice@123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if signed == "" || user.Username != "alice" {
		t.Fatalf("unexpected login result: %q %+v", signed, user)
	}
	if strings.Count(signed, ".") != 2 {
		t.Fatalf("token is not a compact JWT: %q", signed)
	}
}

func TestLoginLockoutAfterFailedAttempts(t *testing.T) {
	svc := testService(t, NewInMemoryStore())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, validCreate()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	for i := 0; i < maxFailedLogins; i++ {
		if _, _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}
	// The fifth failure locks the account; even correct credentials bounce.
	if _, _, err := svc.Login(ctx, "alice", "Alice@123"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestStoreUpdateVersionConflict(t *testing.T) {
	mem := NewInMemoryStore()
	svc := testService(t, mem)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, validCreate())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	stale, err := mem.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	fresh, _ := mem.FindByID(ctx, user.ID)
	if err := mem.Update(ctx, fresh); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := mem.Update(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}
