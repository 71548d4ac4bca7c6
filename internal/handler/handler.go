// Package handler implements the REST API on net/http with jx encoding.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/product"
	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
	"github.com/xenking/homedeco-fulfillment/pkg/httpmiddleware"
)

// Orders places and reads orders.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, id, userID string) (*order.Order, error)
	List(ctx context.Context, userID string) ([]order.Order, error)
}

// Deliveries plans, cancels and returns orders.
type Deliveries interface {
	Plan(ctx context.Context, orderID, userID string) (*delivery.Plan, error)
	Statuses(ctx context.Context, userID string, orders []order.Order) ([]delivery.Status, error)
	Cancel(ctx context.Context, orderID, userID string) (*order.Order, error)
	Return(ctx context.Context, orderID, userID string) (*order.Order, error)
}

var (
	_ Orders     = (*order.Service)(nil)
	_ Deliveries = (*delivery.Service)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Now is used for payment card expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves the /api routes.
type Handler struct {
	products   product.Repository
	orders     Orders
	deliveries Deliveries
	addresses  address.Repository
	warehouses warehouse.Repository
	now        func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	orders Orders,
	deliveries Deliveries,
	addresses address.Repository,
	warehouses warehouse.Repository,
) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		products:   products,
		orders:     orders,
		deliveries: deliveries,
		addresses:  addresses,
		warehouses: warehouses,
		now:        now,
	}
}

// Register adds the API routes to mux. Routes acting on behalf of a user are
// wrapped with authenticate.
func (h *Handler) Register(mux *http.ServeMux, authenticate httpmiddleware.Middleware) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/warehouses", h.ListWarehouses)
	mux.HandleFunc("POST /api/payments/validate", h.ValidatePayment)

	protect := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authenticate(fn))
	}
	protect("POST /api/orders", h.PlaceOrder)
	protect("GET /api/orders", h.ListOrders)
	protect("GET /api/orders/{id}", h.GetOrder)
	protect("GET /api/orders/{id}/delivery", h.GetDelivery)
	protect("POST /api/orders/{id}/cancel", h.CancelOrder)
	protect("POST /api/orders/{id}/return", h.ReturnOrder)
	protect("POST /api/addresses", h.CreateAddress)
	protect("GET /api/addresses", h.ListAddresses)
}
