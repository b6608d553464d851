package rpcserver

import (
	"context"
	"time"

	"lattice.dev/internal/order"
	"lattice.dev/internal/rpcerr"
	"lattice.dev/internal/wire"
)

// OrderServer implements wire.OrderServiceServer.
type OrderServer struct {
	svc     *order.Service
	version string
}

var _ wire.OrderServiceServer = (*OrderServer)(nil)

// NewOrderServer wraps the order service.
func NewOrderServer(svc *order.Service, version string) *OrderServer {
	return &OrderServer{svc: svc, version: version}
}

func (s *OrderServer) CreateOrder(ctx context.Context, in *wire.CreateOrderRequest) (*wire.OrderResponse, error) {
	items := make([]order.Item, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, order.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	o, err := s.svc.CreateOrder(ctx, order.CreateParams{
		UserID:          in.UserID,
		Items:           items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
	})
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	return orderResponse(o), nil
}

func (s *OrderServer) GetOrder(ctx context.Context, in *wire.GetOrderRequest) (*wire.OrderResponse, error) {
	o, err := s.svc.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	return orderResponse(o), nil
}

func (s *OrderServer) ListUserOrders(ctx context.Context, in *wire.ListUserOrdersRequest) (*wire.ListUserOrdersResponse, error) {
	page, err := s.svc.ListUserOrders(ctx, in.UserID, int(in.PageSize), int(in.PageNumber))
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	orders := make([]wire.OrderResponse, 0, len(page.Orders))
	for _, o := range page.Orders {
		orders = append(orders, *orderResponse(o))
	}
	return &wire.ListUserOrdersResponse{
		Orders:      orders,
		TotalPages:  page.TotalPages,
		TotalItems:  page.TotalItems,
		CurrentPage: page.CurrentPage,
	}, nil
}

func (s *OrderServer) UpdateOrderStatus(ctx context.Context, in *wire.UpdateOrderStatusRequest) (*wire.OrderResponse, error) {
	o, err := s.svc.UpdateOrderStatus(ctx, in.OrderID, order.Status(in.Status))
	if err != nil {
		return nil, rpcerr.Map(ctx, err)
	}
	return orderResponse(o), nil
}

func (s *OrderServer) HealthCheck(ctx context.Context, _ *wire.HealthCheckRequest) (*wire.HealthCheckResponse, error) {
	return &wire.HealthCheckResponse{Status: "SERVING", Message: "order-service " + s.version}, nil
}

func orderResponse(o *order.Order) *wire.OrderResponse {
	items := make([]wire.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, wire.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return &wire.OrderResponse{
		OrderID:         o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		SagaState:       string(o.SagaState),
		TotalAmount:     o.TotalAmount,
		Items:           items,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
