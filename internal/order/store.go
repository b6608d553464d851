package order

import "context"

// Store describes persistence for orders. Update uses optimistic concurrency
// on Version; a mismatch is ErrVersionConflict and callers are expected to
// retry the whole transition.
type Store interface {
	Insert(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	// ListByUser returns one page (0-based) ordered by creation time
	// descending, plus the total item count.
	ListByUser(ctx context.Context, userID string, pageSize, pageNumber int) ([]*Order, int64, error)
	Update(ctx context.Context, o *Order) error
}
