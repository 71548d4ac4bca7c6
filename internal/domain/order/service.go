package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/product"
	"github.com/xenking/homedeco-fulfillment/internal/events"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = fmt.Errorf("items required")
	ErrInvalidQuantity = fmt.Errorf("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// LineRequest is a requested product and quantity.
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID            string
	Items             []LineRequest
	ShippingAddressID *int64
	BillingAddressID  *int64
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
}

// Service encapsulates order placement business logic.
type Service struct {
	products  product.Repository
	addresses address.Repository
	orders    Repository
	events    events.Publisher
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	addresses address.Repository,
	orders Repository,
	publisher events.Publisher,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		products:  products,
		addresses: addresses,
		orders:    orders,
		events:    publisher,
		now:       time.Now,
	}
}

// PlaceOrder validates items and addresses, fetches products in a single
// batch, snapshots their prices and persists a pending order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Validate quantities and collect product IDs.
	ids := make([]int64, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	if err := s.checkAddresses(ctx, req); err != nil {
		return nil, err
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}

	productMap := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Verify every requested product was found and snapshot its price.
	products := make([]product.Product, 0, len(req.Items))
	items := make([]Item, len(req.Items))
	total := decimal.Zero
	for i, line := range req.Items {
		p, ok := productMap[line.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}
		products = append(products, p)
		items[i] = Item{
			ProductID: p.ID,
			Quantity:  line.Quantity,
			UnitPrice: p.Price,
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	o := &Order{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Items:             items,
		Total:             total.Round(2),
		Status:            StatusPending,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.events.Publish(ctx, events.Event{
		Type:    events.OrderCreated,
		OrderID: o.ID,
		UserID:  o.UserID,
		At:      o.CreatedAt,
	}); err != nil {
		zctx.From(ctx).Warn("Publish event failed", zap.String("order_id", o.ID), zap.Error(err))
	}

	return &PlaceOrderResult{
		Order:    o,
		Products: products,
	}, nil
}

// Get returns an order owned by userID.
func (s *Service) Get(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the orders of userID, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// checkAddresses verifies that referenced addresses belong to the user.
func (s *Service) checkAddresses(ctx context.Context, req PlaceOrderRequest) error {
	if req.ShippingAddressID == nil && req.BillingAddressID == nil {
		return nil
	}
	addrs, err := s.addresses.ListByUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}
	owned := make(map[int64]bool, len(addrs))
	for _, a := range addrs {
		owned[a.ID] = true
	}
	for _, id := range []*int64{req.ShippingAddressID, req.BillingAddressID} {
		if id != nil && !owned[*id] {
			return fmt.Errorf("address %d: %w", *id, address.ErrNotFound)
		}
	}
	return nil
}
