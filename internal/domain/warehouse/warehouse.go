package warehouse

import (
	"context"
	"fmt"
	"strings"
)

// Warehouse is a physical stock location.
type Warehouse struct {
	ID           int64
	Name         string
	AddressLine1 string
	City         string
	PostalCode   string
	Country      string
}

// Location is the routing label of the warehouse ("City, Country").
func (w Warehouse) Location() string {
	return strings.Join(nonEmpty(w.City, w.Country), ", ")
}

// Stocked is a warehouse together with a snapshot of its inventory, keyed by
// product id. Quantities are never negative.
type Stocked struct {
	Warehouse
	Stock map[int64]int
}

// Available returns the available quantity of productID.
func (s Stocked) Available(productID int64) int {
	return s.Stock[productID]
}

// Repository reads warehouses with their current inventory.
type Repository interface {
	ListStocked(ctx context.Context) ([]Stocked, error)
}

// RestockMode says how imported quantities combine with current stock.
type RestockMode string

const (
	// RestockSet replaces the available quantity.
	RestockSet RestockMode = "set"
	// RestockAdd adds to the available quantity.
	RestockAdd RestockMode = "add"
)

// ParseRestockMode accepts "set" and "add".
func ParseRestockMode(s string) (RestockMode, error) {
	switch m := RestockMode(strings.ToLower(s)); m {
	case RestockSet, RestockAdd:
		return m, nil
	}
	return "", fmt.Errorf("unknown restock mode %q", s)
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
