package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"lattice.dev/internal/obs"
)

const defaultValidateTimeout = 2 * time.Second

// UserValidator answers whether a user may place orders. The Order Service
// implementation calls the Identity Service through the channel fabric; its
// failures arrive pre-classified as ErrValidationUnavailable or
// ErrValidationTimeout.
type UserValidator interface {
	ValidateUser(ctx context.Context, userID string) (bool, error)
}

// Saga drives order creation as an explicit state machine. Transitions are
// data persisted before the next step starts, and compensation is a forward
// path of the same machine. A version conflict aborts the saga and
// propagates; the saga never retries on it.
type Saga struct {
	store           Store
	validator       UserValidator
	events          EventPublisher
	validateTimeout time.Duration
}

// NewSaga wires the saga's collaborators. events may be nil.
func NewSaga(store Store, validator UserValidator, events EventPublisher) *Saga {
	return &Saga{
		store:           store,
		validator:       validator,
		events:          events,
		validateTimeout: defaultValidateTimeout,
	}
}

// CreateParams is the validated-on-entry input of one saga run.
type CreateParams struct {
	UserID          string
	Items           []Item
	ShippingAddress string
	PaymentMethod   string
}

// Run executes the saga for one order. On the happy path the returned order
// is CONFIRMED/COMPLETED and err is nil. On a compensated run the returned
// order is CANCELLED/FAILED and err carries the compensation cause; the row
// stays persisted in its compensated form.
func (s *Saga) Run(ctx context.Context, p CreateParams) (*Order, error) {
	if err := validateInput(p); err != nil {
		return nil, err
	}

	// Persist PENDING before any remote work so the saga has a durable
	// anchor to compensate against.
	o := &Order{
		UserID:          strings.TrimSpace(p.UserID),
		Items:           append([]Item(nil), p.Items...),
		TotalAmount:     Total(p.Items),
		Status:          StatusPending,
		SagaState:       SagaNotStarted,
		ShippingAddress: p.ShippingAddress,
		PaymentMethod:   p.PaymentMethod,
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return nil, err
	}
	obs.Event(ctx, "info", "order persisted", map[string]any{"order_id": o.ID, "total": o.TotalAmount})

	o.SagaState = SagaInProgress
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	valid, cause := s.validateUser(ctx, o.UserID)
	if cause != nil {
		return s.compensate(ctx, o, cause)
	}
	if !valid {
		return s.compensate(ctx, o, ErrUserInvalid)
	}

	o.SagaState = SagaUserValidated
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	o.Status = StatusConfirmed
	o.SagaState = SagaCompleted
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	obs.Event(ctx, "info", "order confirmed", map[string]any{"order_id": o.ID})
	s.publish(ctx, o)
	return o, nil
}

func (s *Saga) validateUser(ctx context.Context, userID string) (bool, error) {
	vctx, cancel := context.WithTimeout(ctx, s.validateTimeout)
	defer cancel()

	valid, err := s.validator.ValidateUser(vctx, userID)
	if err == nil {
		return valid, nil
	}
	switch {
	case errors.Is(err, ErrValidationTimeout), errors.Is(err, context.DeadlineExceeded):
		return false, ErrValidationTimeout
	default:
		// Circuit open, bulkhead exhaustion and transport failure all land
		// here: the remote could not be consulted.
		return false, ErrValidationUnavailable
	}
}

// compensate moves the order through COMPENSATING into its terminal
// CANCELLED/FAILED form, persisting each step, then reports the cause.
func (s *Saga) compensate(ctx context.Context, o *Order, cause error) (*Order, error) {
	obs.Event(ctx, "warn", "order saga compensating", map[string]any{"order_id": o.ID, "cause": cause.Error()})

	o.SagaState = SagaCompensating
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	o.Status = StatusCancelled
	o.SagaState = SagaFailed
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	s.publish(ctx, o)
	return o, cause
}

func (s *Saga) publish(ctx context.Context, o *Order) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, o); err != nil {
		obs.Event(ctx, "warn", "order event publish failed", map[string]any{"order_id": o.ID, "error": err.Error()})
	}
}

func validateInput(p CreateParams) error {
	if strings.TrimSpace(p.UserID) == "" {
		return errInput("user id is required")
	}
	if len(p.Items) == 0 {
		return errInput("order must contain at least one item")
	}
	for _, item := range p.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return errInput("item product id is required")
		}
		if item.Quantity < 1 {
			return errInput("item quantity must be at least 1")
		}
		if item.UnitPrice < 0 {
			return errInput("item unit price must not be negative")
		}
	}
	return nil
}
