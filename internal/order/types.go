package order

import "time"

// Status is the customer-visible order state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// SagaState tracks the creation saga. It is persisted with every transition
// so a crash leaves the order recoverable.
type SagaState string

const (
	SagaNotStarted    SagaState = "NOT_STARTED"
	SagaInProgress    SagaState = "IN_PROGRESS"
	SagaUserValidated SagaState = "USER_VALIDATED"
	SagaCompleted     SagaState = "COMPLETED"
	SagaCompensating  SagaState = "COMPENSATING"
	SagaFailed        SagaState = "FAILED"
)

// Item is one order line. UnitPrice is in minor currency units; totals are
// exact integer sums.
type Item struct {
	ProductID string
	Name      string
	Quantity  int32
	UnitPrice int64
}

// Order is the persisted aggregate. In-flight copies are values; the store
// owns the authoritative row.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	TotalAmount     int64
	Status          Status
	SagaState       SagaState
	ShippingAddress string
	PaymentMethod   string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Total computes the exact order total.
func Total(items []Item) int64 {
	var sum int64
	for _, item := range items {
		sum += int64(item.Quantity) * item.UnitPrice
	}
	return sum
}

// ValidStatus reports whether s names a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// allowedTransitions is the authoritative status transition table.
// DELIVERED and CANCELLED are sinks.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusFailed},
	StatusShipped:    {StatusDelivered},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether the status move is allowed. Setting the
// current status again is permitted and treated as a no-op upstream.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
