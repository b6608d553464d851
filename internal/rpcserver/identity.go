// Package rpcserver implements the gRPC service surfaces on top of the
// domain services. Handlers convert wire messages to domain calls and map
// domain errors to status codes at this boundary only.
package rpcserver

import (
	"context"
	"time"

	"lattice.dev/internal/identity"
	"lattice.dev/internal/rpcerr"
	"lattice.dev/internal/wire"
)

// IdentityServer implements wire.IdentityServiceServer.
type IdentityServer struct {
	svc     *identity.Service
	version string
}

var _ wire.IdentityServiceServer = (*IdentityServer)(nil)

// NewIdentityServer wraps the identity service.
func NewIdentityServer(svc *identity.Service, version string) *IdentityServer {
	return &IdentityServer{svc: svc, version: version}
}

func (s *IdentityServer) CreateUser(ctx context.Context, in *wire.CreateUserRequest) (*wire.UserResponse, error) {
	user, err := s.svc.CreateUser(ctx, identity.CreateUserParams{
		Username:  in.Username,
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	})
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	resp := userResponse(user)
	resp.Message = "user created"
	return resp, nil
}

func (s *IdentityServer) GetUser(ctx context.Context, in *wire.GetUserRequest) (*wire.UserResponse, error) {
	user, err := s.svc.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	return userResponse(user), nil
}

func (s *IdentityServer) UpdateUserProfile(ctx context.Context, in *wire.UpdateUserProfileRequest) (*wire.UserResponse, error) {
	user, err := s.svc.UpdateProfile(ctx, in.UserID, identity.UpdateProfileParams{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	})
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	return userResponse(user), nil
}

func (s *IdentityServer) ValidateUser(ctx context.Context, in *wire.ValidateUserRequest) (*wire.ValidateUserResponse, error) {
	valid, err := s.svc.ValidateUser(ctx, in.UserID)
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	msg := "user is valid for orders"
	if !valid {
		msg = "user is not valid for orders"
	}
	return &wire.ValidateUserResponse{Valid: valid, UserID: in.UserID, Message: msg}, nil
}

func (s *IdentityServer) Login(ctx context.Context, in *wire.LoginRequest) (*wire.LoginResponse, error) {
	signed, user, err := s.svc.Login(ctx, in.Username, in.Password)
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	return &wire.LoginResponse{Token: signed, UserID: user.ID}, nil
}

func (s *IdentityServer) HealthCheck(ctx context.Context, _ *wire.HealthCheckRequest) (*wire.HealthCheckResponse, error) {
	return &wire.HealthCheckResponse{Status: "SERVING", Message: "identity-service " + s.version}, nil
}

func userResponse(u *identity.User) *wire.UserResponse {
	return &wire.UserResponse{
		UserID:          u.ID,
		Username:        u.Username,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Phone:           u.Phone,
		IsActive:        u.Active,
		IsEmailVerified: u.EmailVerified,
		CreatedAt:       u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
