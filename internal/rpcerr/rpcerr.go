// Package rpcerr translates the internal error taxonomy to gRPC status codes.
// It is the single place where wire codes are decided; handlers return domain
// errors and the adapters call Map at the boundary. Unexpected errors become
// a bare Internal status, the original error content is never echoed to the
// caller.
package rpcerr

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lattice.dev/internal/identity"
	"lattice.dev/internal/obs"
	"lattice.dev/internal/order"
	"lattice.dev/internal/token"
)

// Map converts a domain error to a status error suitable for the wire.
func Map(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}

	switch {
	case errors.Is(err, token.ErrExpired):
		return status.Error(codes.Unauthenticated, "token expired")
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrBadSignature),
		errors.Is(err, token.ErrWrongIssuer),
		errors.Is(err, token.ErrWrongAudience),
		errors.Is(err, token.ErrMissingClaim):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, token.ErrIssuance):
		return status.Error(codes.Unauthenticated, "token issuance failed")
	case errors.Is(err, identity.ErrUnknownSubject),
		errors.Is(err, identity.ErrAccountDisabled),
		errors.Is(err, identity.ErrAccountLocked):
		return status.Error(codes.Unauthenticated, "identity unknown or disabled")
	case errors.Is(err, identity.ErrBadCredentials):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, identity.ErrInvalidInput), errors.Is(err, order.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, order.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, identity.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, order.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, identity.ErrVersionConflict), errors.Is(err, order.ErrVersionConflict):
		return status.Error(codes.Aborted, "concurrent modification, retry the operation")
	case errors.Is(err, order.ErrUserInvalid):
		return status.Error(codes.FailedPrecondition, "user is not valid for orders")
	case errors.Is(err, order.ErrValidationUnavailable):
		return status.Error(codes.Unavailable, "identity service unavailable")
	case errors.Is(err, order.ErrValidationTimeout):
		return status.Error(codes.DeadlineExceeded, "identity validation timed out")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	default:
		obs.Event(ctx, "error", "unexpected error", map[string]any{"error": err.Error()})
		return status.Error(codes.Internal, "internal error")
	}
}
