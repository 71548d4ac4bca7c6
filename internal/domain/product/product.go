package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	// GetByIDs returns the products that exist among ids; missing ids are
	// silently skipped.
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
}
