package order

import (
	"context"
	"errors"
	"testing"
)

type scriptedValidator struct {
	valid bool
	err   error
	calls int
}

func (v *scriptedValidator) ValidateUser(ctx context.Context, userID string) (bool, error) {
	v.calls++
	return v.valid, v.err
}

// journalStore records every persisted (status, sagaState) pair so tests can
// assert that each transition was durable before the next step.
type journalStore struct {
	*InMemoryStore
	journal []string
}

func newJournalStore() *journalStore {
	return &journalStore{InMemoryStore: NewInMemoryStore()}
}

func (s *journalStore) Insert(ctx context.Context, o *Order) error {
	if err := s.InMemoryStore.Insert(ctx, o); err != nil {
		return err
	}
	s.journal = append(s.journal, string(o.Status)+"/"+string(o.SagaState))
	return nil
}

func (s *journalStore) Update(ctx context.Context, o *Order) error {
	if err := s.InMemoryStore.Update(ctx, o); err != nil {
		return err
	}
	s.journal = append(s.journal, string(o.Status)+"/"+string(o.SagaState))
	return nil
}

func laptopAndMouse() []Item {
	return []Item{
		{ProductID: "P-001", Name: "Laptop", Quantity: 1, UnitPrice: 99999},
		{ProductID: "P-002", Name: "Mouse", Quantity: 2, UnitPrice: 2999},
	}
}

func TestSagaHappyPath(t *testing.T) {
	store := newJournalStore()
	saga := NewSaga(store, &scriptedValidator{valid: true}, nil)

	o, err := saga.Run(context.Background(), CreateParams{
		UserID:          "u-1",
		Items:           laptopAndMouse(),
		ShippingAddress: "1 Main St",
		PaymentMethod:   "CREDIT_CARD",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o.Status != StatusConfirmed || o.SagaState != SagaCompleted {
		t.Fatalf("final state: %s/%s", o.Status, o.SagaState)
	}
	if o.TotalAmount != 105997 {
		t.Fatalf("total: %d", o.TotalAmount)
	}

	want := []string{
		"PENDING/NOT_STARTED",
		"PENDING/IN_PROGRESS",
		"PENDING/USER_VALIDATED",
		"CONFIRMED/COMPLETED",
	}
	if len(store.journal) != len(want) {
		t.Fatalf("journal: %v", store.journal)
	}
	for i, entry := range want {
		if store.journal[i] != entry {
			t.Fatalf("journal[%d] = %s, want %s (full: %v)", i, store.journal[i], entry, store.journal)
		}
	}

	persisted, err := store.FindByID(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if persisted.SagaState != SagaCompleted {
		t.Fatalf("persisted saga state: %s", persisted.SagaState)
	}
}

func TestSagaRejectsInvalidInputBeforePersistence(t *testing.T) {
	store := newJournalStore()
	saga := NewSaga(store, &scriptedValidator{valid: true}, nil)
	ctx := context.Background()

	cases := []CreateParams{
		{UserID: "u-1"}, // empty items
		{UserID: "", Items: laptopAndMouse()},
		{UserID: "u-1", Items: []Item{{ProductID: "P-1", Quantity: 0, UnitPrice: 10}}},
		{UserID: "u-1", Items: []Item{{ProductID: "P-1", Quantity: 1, UnitPrice: -1}}},
	}
	for i, p := range cases {
		if _, err := saga.Run(ctx, p); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
	if len(store.journal) != 0 {
		t.Fatalf("invalid input reached the store: %v", store.journal)
	}
}

func TestSagaCompensatesOnInvalidUser(t *testing.T) {
	store := newJournalStore()
	saga := NewSaga(store, &scriptedValidator{valid: false}, nil)

	o, err := saga.Run(context.Background(), CreateParams{UserID: "u-2", Items: laptopAndMouse()})
	if !errors.Is(err, ErrUserInvalid) {
		t.Fatalf("expected ErrUserInvalid, got %v", err)
	}
	if o.Status != StatusCancelled || o.SagaState != SagaFailed {
		t.Fatalf("compensated state: %s/%s", o.Status, o.SagaState)
	}

	want := []string{
		"PENDING/NOT_STARTED",
		"PENDING/IN_PROGRESS",
		"PENDING/COMPENSATING",
		"CANCELLED/FAILED",
	}
	for i, entry := range want {
		if store.journal[i] != entry {
			t.Fatalf("journal[%d] = %s, want %s", i, store.journal[i], entry)
		}
	}

	// The compensated row stays persisted.
	persisted, err := store.FindByID(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if persisted.Status != StatusCancelled || persisted.SagaState != SagaFailed {
		t.Fatalf("persisted: %s/%s", persisted.Status, persisted.SagaState)
	}
}

func TestSagaClassifiesRemoteFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", ErrValidationUnavailable, ErrValidationUnavailable},
		{"timeout", ErrValidationTimeout, ErrValidationTimeout},
		{"deadline", context.DeadlineExceeded, ErrValidationTimeout},
		{"unclassified", errors.New("connection refused"), ErrValidationUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newJournalStore()
			saga := NewSaga(store, &scriptedValidator{err: tc.err}, nil)

			o, err := saga.Run(context.Background(), CreateParams{UserID: "u-3", Items: laptopAndMouse()})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if o.Status != StatusCancelled || o.SagaState != SagaFailed {
				t.Fatalf("compensated state: %s/%s", o.Status, o.SagaState)
			}
		})
	}
}

// conflictStore fails the nth update with a version conflict.
type conflictStore struct {
	*InMemoryStore
	failOn  int
	updates int
}

func (s *conflictStore) Update(ctx context.Context, o *Order) error {
	s.updates++
	if s.updates == s.failOn {
		return ErrVersionConflict
	}
	return s.InMemoryStore.Update(ctx, o)
}

func TestSagaPropagatesVersionConflict(t *testing.T) {
	store := &conflictStore{InMemoryStore: NewInMemoryStore(), failOn: 2}
	saga := NewSaga(store, &scriptedValidator{valid: true}, nil)

	_, err := saga.Run(context.Background(), CreateParams{UserID: "u-4", Items: laptopAndMouse()})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("saga must propagate the conflict without retrying, got %v", err)
	}
	if store.updates != 2 {
		t.Fatalf("saga retried after a conflict: %d updates", store.updates)
	}
}

type countingPublisher struct {
	events []string
}

func (p *countingPublisher) Publish(ctx context.Context, o *Order) error {
	p.events = append(p.events, string(o.Status))
	return nil
}

func TestSagaPublishesTerminalEvents(t *testing.T) {
	pub := &countingPublisher{}
	saga := NewSaga(NewInMemoryStore(), &scriptedValidator{valid: true}, pub)
	if _, err := saga.Run(context.Background(), CreateParams{UserID: "u-5", Items: laptopAndMouse()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	failing := NewSaga(NewInMemoryStore(), &scriptedValidator{valid: false}, pub)
	_, _ = failing.Run(context.Background(), CreateParams{UserID: "u-6", Items: laptopAndMouse()})

	if len(pub.events) != 2 || pub.events[0] != "CONFIRMED" || pub.events[1] != "CANCELLED" {
		t.Fatalf("events: %v", pub.events)
	}
}
