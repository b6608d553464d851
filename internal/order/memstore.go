package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"lattice.dev/internal/ids"
)

// InMemoryStore implements Store with in-process concurrency safety.
type InMemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{orders: make(map[string]*Order), now: time.Now}
}

func (s *InMemoryStore) Insert(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = ids.New()
	}
	now := s.now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 0
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *InMemoryStore) ListByUser(ctx context.Context, userID string, pageSize, pageNumber int) ([]*Order, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Order
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := pageSize * pageNumber
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	page := make([]*Order, 0, end-start)
	for _, o := range all[start:end] {
		page = append(page, cloneOrder(o))
	}
	return page, total, nil
}

func (s *InMemoryStore) Update(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != o.Version {
		return ErrVersionConflict
	}
	o.Version++
	o.UpdatedAt = s.now().UTC()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	return &cp
}
