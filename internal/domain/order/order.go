package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order does not exist or belongs to another user.
var ErrNotFound = errors.New("order not found")

// Status is the persisted lifecycle status of an order. Only pending,
// processing and the terminal states are ever written; the in-flight phases
// are derived at read time from elapsed time.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPreparing  Status = "preparing"
	StatusEnRoute    Status = "en route"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// Terminal reports whether no further transition may override s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusReturned
}

// Order is a customer order. CreatedAt anchors all delivery time arithmetic.
type Order struct {
	ID                string
	UserID            string
	Items             []Item
	Total             decimal.Decimal
	Status            Status
	ShippingAddressID *int64
	BillingAddressID  *int64
	// HubWarehouseID is set by the one-time inventory reservation.
	HubWarehouseID *int64
	ReservedAt     *time.Time
	// ClosedAt is set when the order reaches a terminal status.
	ClosedAt  *time.Time
	CreatedAt time.Time
}

// Item is a single order line. UnitPrice is a snapshot taken at order time.
type Item struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// TotalQuantity sums the quantities of all lines.
func (o *Order) TotalQuantity() int {
	var n int
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order and its items atomically.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
}
