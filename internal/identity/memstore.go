package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"lattice.dev/internal/ids"
)

// InMemoryStore implements UserStore with in-process concurrency safety.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byName  map[string]string
	byEmail map[string]string
	now     func() time.Time
}

var _ UserStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*User),
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(u.Username)
	email := strings.ToLower(u.Email)
	if _, ok := s.byName[name]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}

	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Version = 0

	cp := cloneUser(u)
	s.byID[u.ID] = cp
	s.byName[name] = u.ID
	s.byEmail[email] = u.ID
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *InMemoryStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *InMemoryStore) Update(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[u.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != u.Version {
		return ErrVersionConflict
	}
	u.Version++
	u.UpdatedAt = s.now().UTC()
	s.byID[u.ID] = cloneUser(u)
	return nil
}

func cloneUser(u *User) *User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	return &cp
}
