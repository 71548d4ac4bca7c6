package address

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an address does not exist for the user.
var ErrNotFound = errors.New("address not found")

// FallbackDestination is used when the customer has no address on file.
const FallbackDestination = "Paris, France"

// Address is a postal address owned by a user. At most one address per user
// is the default shipping address and at most one the default billing one.
type Address struct {
	ID                int64
	UserID            string
	Label             string
	AddressLine1      string
	AddressLine2      string
	City              string
	PostalCode        string
	Country           string
	Phone             string
	IsDefaultShipping bool
	IsDefaultBilling  bool
}

// Line joins the non-empty routing parts of the address.
func (a Address) Line() string {
	var parts []string
	for _, p := range []string{a.AddressLine1, a.PostalCode, a.City, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Repository persists user addresses.
type Repository interface {
	// Create stores a new address. When a default flag is set, the previous
	// default of that kind is unset in the same transaction.
	Create(ctx context.Context, a *Address) error
	ListByUser(ctx context.Context, userID string) ([]Address, error)
}

// Resolve picks the delivery address for an order: the explicit shipping
// address, else the default shipping address, else the first one on file.
// It returns false when the user has no address at all.
func Resolve(addrs []Address, shippingID *int64) (Address, bool) {
	if shippingID != nil {
		for _, a := range addrs {
			if a.ID == *shippingID {
				return a, true
			}
		}
	}
	for _, a := range addrs {
		if a.IsDefaultShipping {
			return a, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return Address{}, false
}
