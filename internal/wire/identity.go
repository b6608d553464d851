package wire

import (
	"context"

	"google.golang.org/grpc"
)

// IdentityServiceName is the fully qualified gRPC service name.
const IdentityServiceName = "lattice.identity.v1.IdentityService"

// Full method names, used by authorization policies and exclusion lists.
const (
	IdentityCreateUserMethod        = "/" + IdentityServiceName + "/CreateUser"
	IdentityGetUserMethod           = "/" + IdentityServiceName + "/GetUser"
	IdentityUpdateUserProfileMethod = "/" + IdentityServiceName + "/UpdateUserProfile"
	IdentityValidateUserMethod      = "/" + IdentityServiceName + "/ValidateUser"
	IdentityLoginMethod             = "/" + IdentityServiceName + "/Login"
	IdentityHealthCheckMethod       = "/" + IdentityServiceName + "/HealthCheck"
)

// CreateUserRequest registers a new account. Public.
type CreateUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// UserResponse is the profile shape returned by user-facing operations.
type UserResponse struct {
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Phone           string `json:"phone,omitempty"`
	IsActive        bool   `json:"is_active"`
	IsEmailVerified bool   `json:"is_email_verified"`
	CreatedAt       string `json:"created_at,omitempty"`
	Message         string `json:"message,omitempty"`
}

type GetUserRequest struct {
	UserID string `json:"user_id"`
}

// UpdateUserProfileRequest updates the caller's profile; nil fields keep the
// stored value.
type UpdateUserProfileRequest struct {
	UserID    string  `json:"user_id"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// ValidateUserRequest is the service-to-service eligibility probe.
type ValidateUserRequest struct {
	UserID string `json:"user_id"`
}

type ValidateUserResponse struct {
	Valid   bool   `json:"valid"`
	UserID  string `json:"user_id"`
	Message string `json:"message,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// IdentityServiceServer is implemented by the identity gRPC server.
type IdentityServiceServer interface {
	CreateUser(ctx context.Context, in *CreateUserRequest) (*UserResponse, error)
	GetUser(ctx context.Context, in *GetUserRequest) (*UserResponse, error)
	UpdateUserProfile(ctx context.Context, in *UpdateUserProfileRequest) (*UserResponse, error)
	ValidateUser(ctx context.Context, in *ValidateUserRequest) (*ValidateUserResponse, error)
	Login(ctx context.Context, in *LoginRequest) (*LoginResponse, error)
	HealthCheck(ctx context.Context, in *HealthCheckRequest) (*HealthCheckResponse, error)
}

// RegisterIdentityServiceServer registers the implementation with the server.
func RegisterIdentityServiceServer(s grpc.ServiceRegistrar, srv IdentityServiceServer) {
	s.RegisterService(&IdentityServiceDesc, srv)
}

func identityHandler[Req any, Resp any](
	method string,
	call func(IdentityServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IdentityServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IdentityServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// IdentityServiceDesc is the hand-written service descriptor.
var IdentityServiceDesc = grpc.ServiceDesc{
	ServiceName: IdentityServiceName,
	HandlerType: (*IdentityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateUser",
			Handler: identityHandler(IdentityCreateUserMethod,
				func(s IdentityServiceServer, ctx context.Context, in *CreateUserRequest) (*UserResponse, error) {
					return s.CreateUser(ctx, in)
				}),
		},
		{
			MethodName: "GetUser",
			Handler: identityHandler(IdentityGetUserMethod,
				func(s IdentityServiceServer, ctx context.Context, in *GetUserRequest) (*UserResponse, error) {
					return s.GetUser(ctx, in)
				}),
		},
		{
			MethodName: "UpdateUserProfile",
			Handler: identityHandler(IdentityUpdateUserProfileMethod,
				func(s IdentityServiceServer, ctx context.Context, in *UpdateUserProfileRequest) (*UserResponse, error) {
					return s.UpdateUserProfile(ctx, in)
				}),
		},
		{
			MethodName: "ValidateUser",
			Handler: identityHandler(IdentityValidateUserMethod,
				func(s IdentityServiceServer, ctx context.Context, in *ValidateUserRequest) (*ValidateUserResponse, error) {
					return s.ValidateUser(ctx, in)
				}),
		},
		{
			MethodName: "Login",
			Handler: identityHandler(IdentityLoginMethod,
				func(s IdentityServiceServer, ctx context.Context, in *LoginRequest) (*LoginResponse, error) {
					return s.Login(ctx, in)
				}),
		},
		{
			MethodName: "HealthCheck",
			Handler: identityHandler(IdentityHealthCheckMethod,
				func(s IdentityServiceServer, ctx context.Context, in *HealthCheckRequest) (*HealthCheckResponse, error) {
					return s.HealthCheck(ctx, in)
				}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// IdentityClient is the client stub for the identity service.
type IdentityClient struct {
	cc grpc.ClientConnInterface
}

// NewIdentityClient wraps a connection.
func NewIdentityClient(cc grpc.ClientConnInterface) *IdentityClient {
	return &IdentityClient{cc: cc}
}

func (c *IdentityClient) CreateUser(ctx context.Context, in *CreateUserRequest, opts ...grpc.CallOption) (*UserResponse, error) {
	out := new(UserResponse)
	if err := c.cc.Invoke(ctx, IdentityCreateUserMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) GetUser(ctx context.Context, in *GetUserRequest, opts ...grpc.CallOption) (*UserResponse, error) {
	out := new(UserResponse)
	if err := c.cc.Invoke(ctx, IdentityGetUserMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) UpdateUserProfile(ctx context.Context, in *UpdateUserProfileRequest, opts ...grpc.CallOption) (*UserResponse, error) {
	out := new(UserResponse)
	if err := c.cc.Invoke(ctx, IdentityUpdateUserProfileMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) ValidateUser(ctx context.Context, in *ValidateUserRequest, opts ...grpc.CallOption) (*ValidateUserResponse, error) {
	out := new(ValidateUserResponse)
	if err := c.cc.Invoke(ctx, IdentityValidateUserMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	out := new(LoginResponse)
	if err := c.cc.Invoke(ctx, IdentityLoginMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	if err := c.cc.Invoke(ctx, IdentityHealthCheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
