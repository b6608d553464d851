package wire

import (
	"context"

	"google.golang.org/grpc"
)

// OrderServiceName is the fully qualified gRPC service name.
const OrderServiceName = "lattice.order.v1.OrderService"

const (
	OrderCreateOrderMethod       = "/" + OrderServiceName + "/CreateOrder"
	OrderGetOrderMethod          = "/" + OrderServiceName + "/GetOrder"
	OrderListUserOrdersMethod    = "/" + OrderServiceName + "/ListUserOrders"
	OrderUpdateOrderStatusMethod = "/" + OrderServiceName + "/UpdateOrderStatus"
	OrderHealthCheckMethod       = "/" + OrderServiceName + "/HealthCheck"
)

// OrderItem is one line of an order. UnitPrice is in minor currency units so
// totals stay exact.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type CreateOrderRequest struct {
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
}

// OrderResponse is the order shape returned by every order operation.
type OrderResponse struct {
	OrderID         string      `json:"order_id"`
	UserID          string      `json:"user_id"`
	Status          string      `json:"status"`
	SagaState       string      `json:"saga_state"`
	TotalAmount     int64       `json:"total_amount"`
	Items           []OrderItem `json:"items"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
	UpdatedAt       string      `json:"updated_at,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListUserOrdersRequest struct {
	UserID     string `json:"user_id"`
	PageSize   int32  `json:"page_size"`
	PageNumber int32  `json:"page_number"`
}

type ListUserOrdersResponse struct {
	Orders      []OrderResponse `json:"orders"`
	TotalPages  int32           `json:"total_pages"`
	TotalItems  int64           `json:"total_items"`
	CurrentPage int32           `json:"current_page"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// OrderServiceServer is implemented by the order gRPC server.
type OrderServiceServer interface {
	CreateOrder(ctx context.Context, in *CreateOrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest) (*OrderResponse, error)
	ListUserOrders(ctx context.Context, in *ListUserOrdersRequest) (*ListUserOrdersResponse, error)
	UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest) (*OrderResponse, error)
	HealthCheck(ctx context.Context, in *HealthCheckRequest) (*HealthCheckResponse, error)
}

// RegisterOrderServiceServer registers the implementation with the server.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

func orderHandler[Req any, Resp any](
	method string,
	call func(OrderServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceDesc is the hand-written service descriptor.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler: orderHandler(OrderCreateOrderMethod,
				func(s OrderServiceServer, ctx context.Context, in *CreateOrderRequest) (*OrderResponse, error) {
					return s.CreateOrder(ctx, in)
				}),
		},
		{
			MethodName: "GetOrder",
			Handler: orderHandler(OrderGetOrderMethod,
				func(s OrderServiceServer, ctx context.Context, in *GetOrderRequest) (*OrderResponse, error) {
					return s.GetOrder(ctx, in)
				}),
		},
		{
			MethodName: "ListUserOrders",
			Handler: orderHandler(OrderListUserOrdersMethod,
				func(s OrderServiceServer, ctx context.Context, in *ListUserOrdersRequest) (*ListUserOrdersResponse, error) {
					return s.ListUserOrders(ctx, in)
				}),
		},
		{
			MethodName: "UpdateOrderStatus",
			Handler: orderHandler(OrderUpdateOrderStatusMethod,
				func(s OrderServiceServer, ctx context.Context, in *UpdateOrderStatusRequest) (*OrderResponse, error) {
					return s.UpdateOrderStatus(ctx, in)
				}),
		},
		{
			MethodName: "HealthCheck",
			Handler: orderHandler(OrderHealthCheckMethod,
				func(s OrderServiceServer, ctx context.Context, in *HealthCheckRequest) (*HealthCheckResponse, error) {
					return s.HealthCheck(ctx, in)
				}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// OrderClient is the client stub for the order service.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderClient wraps a connection.
func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

func (c *OrderClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.cc.Invoke(ctx, OrderCreateOrderMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.cc.Invoke(ctx, OrderGetOrderMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) ListUserOrders(ctx context.Context, in *ListUserOrdersRequest, opts ...grpc.CallOption) (*ListUserOrdersResponse, error) {
	out := new(ListUserOrdersResponse)
	if err := c.cc.Invoke(ctx, OrderListUserOrdersMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.cc.Invoke(ctx, OrderUpdateOrderStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	if err := c.cc.Invoke(ctx, OrderHealthCheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
