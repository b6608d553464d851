package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lattice.dev/internal/cache"
	"lattice.dev/internal/identity"
	"lattice.dev/internal/obs"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	orderCacheTTL    = 15 * time.Minute
	orderCachePrefix = "order:"

	// AdminAuthority may read and mutate any order.
	AdminAuthority = "admin"
)

// Service implements the order operations behind the RPC surface.
type Service struct {
	store     Store
	saga      *Saga
	respCache cache.Store
}

// NewService wires the store, the creation saga and the optional response
// cache.
func NewService(store Store, saga *Saga, respCache cache.Store) *Service {
	return &Service{store: store, saga: saga, respCache: respCache}
}

// CreateOrder runs the creation saga.
func (s *Service) CreateOrder(ctx context.Context, p CreateParams) (*Order, error) {
	o, err := s.saga.Run(ctx, p)
	if o != nil {
		s.cacheOrder(ctx, o)
	}
	return o, err
}

// GetOrder loads an order, answering NotFound both for absent rows and for
// rows not owned by the caller.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errInput("order id is required")
	}

	if o := s.cachedOrder(ctx, orderID); o != nil {
		if err := s.authorizeRead(ctx, o); err != nil {
			return nil, err
		}
		return o, nil
	}

	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, o); err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

// Page is one page of a user's order history.
type Page struct {
	Orders      []*Order
	TotalItems  int64
	TotalPages  int32
	CurrentPage int32
}

// ListUserOrders returns one page of the user's orders, newest first.
func (s *Service) ListUserOrders(ctx context.Context, userID string, pageSize, pageNumber int) (*Page, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errInput("user id is required")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageNumber < 0 {
		pageNumber = 0
	}

	orders, total, err := s.store.ListByUser(ctx, userID, pageSize, pageNumber)
	if err != nil {
		return nil, err
	}
	pages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		pages++
	}
	return &Page{
		Orders:      orders,
		TotalItems:  total,
		TotalPages:  int32(pages),
		CurrentPage: int32(pageNumber),
	}, nil
}

// UpdateOrderStatus applies one transition from the authoritative table.
// Setting the current status again leaves Status as it is; the row is still
// saved, so UpdatedAt is refreshed and Version is incremented.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, next Status) (*Order, error) {
	if !ValidStatus(next) {
		return nil, errInput(fmt.Sprintf("unknown status %q", next))
	}
	o, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, o); err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	o.Status = next
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	obs.Event(ctx, "info", "order status updated", map[string]any{"order_id": o.ID, "status": string(next)})
	return o, nil
}

// authorizeRead hides other users' orders behind NotFound rather than
// PermissionDenied, so order ids cannot be probed.
func (s *Service) authorizeRead(ctx context.Context, o *Order) error {
	principal, ok := identity.PrincipalFromContext(ctx)
	if !ok {
		// BASIC_VALIDATION and NONE modes publish no principal; ownership is
		// not enforceable there.
		return nil
	}
	if principal.UserID == o.UserID || principal.HasAuthority(AdminAuthority) {
		return nil
	}
	return ErrNotFound
}

func (s *Service) cacheOrder(ctx context.Context, o *Order) {
	if s.respCache == nil {
		return
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.respCache.Set(ctx, orderCachePrefix+o.ID, string(raw), orderCacheTTL); err != nil {
		obs.Event(ctx, "warn", "order cache write failed", map[string]any{"order_id": o.ID, "error": err.Error()})
	}
}

func (s *Service) cachedOrder(ctx context.Context, orderID string) *Order {
	if s.respCache == nil {
		return nil
	}
	raw, ok, err := s.respCache.Get(ctx, orderCachePrefix+orderID)
	if err != nil {
		obs.Event(ctx, "warn", "order cache read failed", map[string]any{"order_id": orderID, "error": err.Error()})
		return nil
	}
	if !ok {
		return nil
	}
	var o Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil
	}
	return &o
}
