package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lattice.dev/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. Items live in an ordered
// sub-collection keyed by the order id.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = ids.New()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`insert into orders(id, user_id, total_amount, status, saga_state, shipping_address,
		   payment_method, version, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.UserID, o.TotalAmount, o.Status, o.SagaState, o.ShippingAddress,
		o.PaymentMethod, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	for pos, item := range o.Items {
		_, err = tx.ExecContext(ctx,
			`insert into order_items(order_id, position, product_id, name, quantity, unit_price)
			 values($1,$2,$3,$4,$5,$6)`,
			o.ID, pos, item.ProductID, item.Name, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, total_amount, status, saga_state, shipping_address,
		   payment_method, version, created_at, updated_at
		 from orders where id=$1`, id)

	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.SagaState,
		&o.ShippingAddress, &o.PaymentMethod, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.itemsFor(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, pageSize, pageNumber int) ([]*Order, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from orders where user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, total_amount, status, saga_state, shipping_address,
		   payment_method, version, created_at, updated_at
		 from orders where user_id=$1
		 order by created_at desc limit $2 offset $3`,
		userID, pageSize, pageSize*pageNumber)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.SagaState,
			&o.ShippingAddress, &o.PaymentMethod, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, o := range orders {
		if o.Items, err = s.itemsFor(ctx, o.ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

func (s *PGStore) Update(ctx context.Context, o *Order) error {
	res, err := s.db.ExecContext(ctx,
		`update orders set status=$1, saga_state=$2, shipping_address=$3,
		   payment_method=$4, version=version+1, updated_at=$5
		 where id=$6 and version=$7`,
		o.Status, o.SagaState, o.ShippingAddress, o.PaymentMethod,
		time.Now().UTC(), o.ID, o.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	o.Version++
	return nil
}

func (s *PGStore) itemsFor(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`select product_id, name, quantity, unit_price
		 from order_items where order_id=$1 order by position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
