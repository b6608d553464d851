package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lattice.dev/internal/cache"
	"lattice.dev/internal/obs"
	"lattice.dev/internal/token"
)

const (
	minPasswordLength = 8
	lockDuration      = 15 * time.Minute
)

// Service implements the identity operations behind the RPC surface.
type Service struct {
	store      UserStore
	codec      *token.Codec
	validation *cache.Validation
	tokenTTL   time.Duration
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTokenTTL sets the lifetime of tokens issued at login.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the store, the token codec and the validation cache.
func NewService(store UserStore, codec *token.Codec, validation *cache.Validation, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		codec:      codec,
		validation: validation,
		tokenTTL:   24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUserParams carries the public signup request.
type CreateUserParams struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// CreateUser registers a new account. New accounts start active with an
// unverified email, so they are not yet valid for orders.
func (s *Service) CreateUser(ctx context.Context, p CreateUserParams) (*User, error) {
	if err := validateCreate(p); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		Username:      strings.TrimSpace(p.Username),
		Email:         strings.TrimSpace(p.Email),
		PasswordHash:  string(hash),
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Phone:         p.Phone,
		Roles:         []string{"user"},
		Active:        true,
		EmailVerified: false,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	if s.validation != nil {
		s.validation.WarmAfterCreate(ctx, user.ID, user.ValidForOrder())
	}
	obs.Event(ctx, "info", "user created", map[string]any{"user_id": user.ID, "username": user.Username})
	return user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	return s.store.FindByID(ctx, id)
}

// UpdateProfileParams carries the optional profile fields; nil means keep.
type UpdateProfileParams struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

// UpdateProfile applies the given fields and saves with optimistic
// concurrency. ErrVersionConflict propagates unchanged.
func (s *Service) UpdateProfile(ctx context.Context, id string, p UpdateProfileParams) (*User, error) {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.FirstName != nil {
		user.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		user.LastName = *p.LastName
	}
	if p.Phone != nil {
		user.Phone = *p.Phone
	}
	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateUser answers the service-to-service eligibility question through
// the read-through cache. An unknown user is simply not valid; the caller
// gets valid=false, not an error.
func (s *Service) ValidateUser(ctx context.Context, userID string) (bool, error) {
	lookup := func(ctx context.Context) (bool, error) {
		user, err := s.store.FindByID(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return user.ValidForOrder(), nil
	}
	if s.validation == nil {
		return lookup(ctx)
	}
	return s.validation.IsValidForOrder(ctx, userID, lookup)
}

// Login verifies credentials and issues a signed token. Failed attempts are
// counted; the fifth failure locks the account for a fixed window.
func (s *Service) Login(ctx context.Context, username, password string) (string, *User, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrBadCredentials
		}
		return "", nil, err
	}

	now := s.now()
	if user.LockedAt(now) {
		return "", nil, ErrAccountLocked
	}
	if !user.Active {
		return "", nil, ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= maxFailedLogins {
			until := now.Add(lockDuration)
			user.LockedUntil = &until
		}
		if uerr := s.store.Update(ctx, user); uerr != nil {
			obs.Event(ctx, "warn", "failed-attempt update failed", map[string]any{"username": username, "error": uerr.Error()})
		}
		return "", nil, ErrBadCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
		if uerr := s.store.Update(ctx, user); uerr != nil {
			obs.Event(ctx, "warn", "attempt-reset update failed", map[string]any{"username": username, "error": uerr.Error()})
		}
	}

	signed, err := s.codec.Issue(user.Username, user.ID, user.Roles, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	obs.Event(ctx, "info", "login succeeded", map[string]any{"user_id": user.ID})
	return signed, user, nil
}

func validateCreate(p CreateUserParams) error {
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(p.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}
