package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrInvalidInput      = errors.New("order: invalid input")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrVersionConflict   = errors.New("order: version conflict")

	// Saga compensation causes, kept distinct so the RPC layer can report
	// FailedPrecondition, Unavailable and DeadlineExceeded respectively.
	ErrUserInvalid           = errors.New("order: user not valid for orders")
	ErrValidationUnavailable = errors.New("order: user validation unavailable")
	ErrValidationTimeout     = errors.New("order: user validation timed out")
)

func errInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
