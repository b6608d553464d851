// Package gateway adapts wire clients to the domain interfaces consumed by
// the sagas, translating transport status codes into the order package's
// failure classifications.
package gateway

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lattice.dev/internal/order"
	"lattice.dev/internal/wire"
)

// IdentityGateway is the Order Service's view of the Identity Service.
type IdentityGateway struct {
	client *wire.IdentityClient
}

var _ order.UserValidator = (*IdentityGateway)(nil)

// NewIdentityGateway wraps the client stub.
func NewIdentityGateway(client *wire.IdentityClient) *IdentityGateway {
	return &IdentityGateway{client: client}
}

// ValidateUser asks IS whether the user may place orders. Transport failures
// are classified for the saga: circuit-open, bulkhead exhaustion and
// unreachable peers become ErrValidationUnavailable, deadline hits become
// ErrValidationTimeout.
func (g *IdentityGateway) ValidateUser(ctx context.Context, userID string) (bool, error) {
	resp, err := g.client.ValidateUser(ctx, &wire.ValidateUserRequest{UserID: userID})
	if err != nil {
		switch status.Code(err) {
		case codes.DeadlineExceeded:
			return false, fmt.Errorf("%w: %v", order.ErrValidationTimeout, err)
		default:
			return false, fmt.Errorf("%w: %v", order.ErrValidationUnavailable, err)
		}
	}
	return resp.Valid, nil
}
