package delivery

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

// ErrNoWarehouses is returned when no warehouse exists to route an order from.
var ErrNoWarehouses = errors.New("no warehouses configured")

// Line is a quantity of one product.
type Line struct {
	ProductID int64
	Quantity  int
}

// Reservation is a quantity of one product taken from one warehouse.
type Reservation struct {
	WarehouseID int64
	ProductID   int64
	Quantity    int
}

// FulfillmentStatus reports whether all demand could be sourced.
type FulfillmentStatus string

const (
	Fulfilled FulfillmentStatus = "Fulfilled"
	Partial   FulfillmentStatus = "Partial"
)

// Candidate is a warehouse together with its final-leg route to the customer.
type Candidate struct {
	Warehouse warehouse.Stocked
	Route     Route
}

func (c Candidate) holdsAny(demand []Line) bool {
	for _, l := range demand {
		if c.Warehouse.Available(l.ProductID) > 0 {
			return true
		}
	}
	return false
}

// Shipment is what one warehouse contributes to an order.
type Shipment struct {
	Warehouse warehouse.Warehouse
	Items     []Line
}

// Transfer moves a non-hub shipment to the hub before final delivery.
type Transfer struct {
	From  warehouse.Warehouse
	To    warehouse.Warehouse
	Route Route
	Items []Line
}

// Allocation is the result of hub selection and stock sourcing.
type Allocation struct {
	Hub Candidate
	// Ranked holds every warehouse ordered by final-leg duration, ties keeping
	// their input order.
	Ranked []Candidate
	// Shipments are listed in proximity order; the hub's own one, if any,
	// need not be first.
	Shipments   []Shipment
	Transfers   []Transfer
	MaxTransfer time.Duration
	Unfulfilled []Line
}

// Status reports Fulfilled when no demand is left unsourced.
func (a *Allocation) Status() FulfillmentStatus {
	if len(a.Unfulfilled) > 0 {
		return Partial
	}
	return Fulfilled
}

// Consolidating reports whether stock must be moved to the hub first.
func (a *Allocation) Consolidating() bool {
	return len(a.Transfers) > 0
}

// Fulfilled returns the sourced quantity per product, ascending by product id.
func (a *Allocation) Fulfilled() []Line {
	sum := map[int64]int{}
	for _, s := range a.Shipments {
		for _, l := range s.Items {
			sum[l.ProductID] += l.Quantity
		}
	}
	return linesOf(sum)
}

// Reservations flattens the shipments into per-warehouse decrements.
func (a *Allocation) Reservations() []Reservation {
	var out []Reservation
	for _, s := range a.Shipments {
		for _, l := range s.Items {
			out = append(out, Reservation{
				WarehouseID: s.Warehouse.ID,
				ProductID:   l.ProductID,
				Quantity:    l.Quantity,
			})
		}
	}
	return out
}

// Allocator selects the consolidation hub and sources demand from warehouses.
type Allocator struct {
	routes Estimator
}

// NewAllocator returns an Allocator using routes for every leg estimate.
func NewAllocator(routes Estimator) *Allocator {
	return &Allocator{routes: routes}
}

// Rank estimates the final leg from every warehouse to destination and orders
// warehouses by ascending duration. The sort is stable.
func (a *Allocator) Rank(ctx context.Context, orderSeed int64, warehouses []warehouse.Stocked, destination string) ([]Candidate, error) {
	ranked := make([]Candidate, len(warehouses))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range warehouses {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ranked[i] = Candidate{
				Warehouse: w,
				Route:     a.routes.EstimateRoute(gctx, w.Location(), destination, legSeed(orderSeed, w.ID)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "estimate routes")
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Route.Duration < ranked[j].Route.Duration
	})
	return ranked, nil
}

// Allocate picks the hub and sources demand against the given stock snapshot.
//
// The hub is the nearest warehouse holding any demanded product, or simply the
// nearest one when nothing is in stock anywhere. Stock is then taken greedily
// in proximity order, product by product in ascending id order. Allocate has
// no side effects.
func (a *Allocator) Allocate(ctx context.Context, orderSeed int64, demand []Line, warehouses []warehouse.Stocked, destination string) (*Allocation, error) {
	if len(warehouses) == 0 {
		return nil, ErrNoWarehouses
	}
	demand = Normalize(demand)

	ranked, err := a.Rank(ctx, orderSeed, warehouses, destination)
	if err != nil {
		return nil, err
	}

	hub := ranked[0]
	for _, c := range ranked {
		if c.holdsAny(demand) {
			hub = c
			break
		}
	}

	remaining := slices.Clone(demand)
	var shipments []Shipment
	for _, c := range ranked {
		var taken []Line
		for i := range remaining {
			q := min(remaining[i].Quantity, c.Warehouse.Available(remaining[i].ProductID))
			if q <= 0 {
				continue
			}
			taken = append(taken, Line{ProductID: remaining[i].ProductID, Quantity: q})
			remaining[i].Quantity -= q
		}
		if len(taken) > 0 {
			shipments = append(shipments, Shipment{Warehouse: c.Warehouse.Warehouse, Items: taken})
		}
		if satisfied(remaining) {
			break
		}
	}

	alloc := &Allocation{
		Hub:         hub,
		Ranked:      ranked,
		Shipments:   shipments,
		Unfulfilled: positive(remaining),
	}
	a.plan(ctx, orderSeed, alloc)
	return alloc, nil
}

// Replay rebuilds the allocation of an order whose stock was already
// reserved, so views after reservation keep the hub and split that were
// committed rather than re-sourcing against drifted inventory.
func (a *Allocator) Replay(ctx context.Context, orderSeed int64, demand []Line, warehouses []warehouse.Stocked, destination string, hubID int64, reserved []Reservation) (*Allocation, error) {
	if len(warehouses) == 0 {
		return nil, ErrNoWarehouses
	}
	demand = Normalize(demand)

	ranked, err := a.Rank(ctx, orderSeed, warehouses, destination)
	if err != nil {
		return nil, err
	}

	hub := ranked[0]
	for _, c := range ranked {
		if c.Warehouse.ID == hubID {
			hub = c
			break
		}
	}

	byWarehouse := map[int64]map[int64]int{}
	sourced := map[int64]int{}
	for _, r := range reserved {
		if byWarehouse[r.WarehouseID] == nil {
			byWarehouse[r.WarehouseID] = map[int64]int{}
		}
		byWarehouse[r.WarehouseID][r.ProductID] += r.Quantity
		sourced[r.ProductID] += r.Quantity
	}

	var shipments []Shipment
	for _, c := range ranked {
		items, ok := byWarehouse[c.Warehouse.ID]
		if !ok {
			continue
		}
		shipments = append(shipments, Shipment{Warehouse: c.Warehouse.Warehouse, Items: linesOf(items)})
		delete(byWarehouse, c.Warehouse.ID)
	}
	// Warehouses removed since the reservation still appear, by id only.
	for _, id := range sortedKeys(byWarehouse) {
		shipments = append(shipments, Shipment{
			Warehouse: warehouse.Warehouse{ID: id},
			Items:     linesOf(byWarehouse[id]),
		})
	}

	var unfulfilled []Line
	for _, l := range demand {
		if left := l.Quantity - sourced[l.ProductID]; left > 0 {
			unfulfilled = append(unfulfilled, Line{ProductID: l.ProductID, Quantity: left})
		}
	}

	alloc := &Allocation{
		Hub:         hub,
		Ranked:      ranked,
		Shipments:   shipments,
		Unfulfilled: unfulfilled,
	}
	a.plan(ctx, orderSeed, alloc)
	return alloc, nil
}

// plan derives the hub transfers of alloc. Transfers run in parallel, so the
// hub is ready once the longest one lands.
func (a *Allocator) plan(ctx context.Context, orderSeed int64, alloc *Allocation) {
	hub := alloc.Hub.Warehouse.Warehouse
	for _, s := range alloc.Shipments {
		if s.Warehouse.ID == hub.ID {
			continue
		}
		route := a.routes.EstimateRoute(ctx, s.Warehouse.Location(), hub.Location(), transferSeed(orderSeed, s.Warehouse.ID))
		alloc.Transfers = append(alloc.Transfers, Transfer{
			From:  s.Warehouse,
			To:    hub,
			Route: route,
			Items: s.Items,
		})
		alloc.MaxTransfer = max(alloc.MaxTransfer, route.Duration)
	}
}

// Normalize merges lines of the same product, drops non-positive quantities
// and orders the result by ascending product id.
func Normalize(lines []Line) []Line {
	sum := map[int64]int{}
	for _, l := range lines {
		if l.Quantity > 0 {
			sum[l.ProductID] += l.Quantity
		}
	}
	return linesOf(sum)
}

func linesOf(qty map[int64]int) []Line {
	out := make([]Line, 0, len(qty))
	for _, id := range sortedKeys(qty) {
		if qty[id] > 0 {
			out = append(out, Line{ProductID: id, Quantity: qty[id]})
		}
	}
	return out
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func satisfied(lines []Line) bool {
	for _, l := range lines {
		if l.Quantity > 0 {
			return false
		}
	}
	return true
}

func positive(lines []Line) []Line {
	var out []Line
	for _, l := range lines {
		if l.Quantity > 0 {
			out = append(out, l)
		}
	}
	return out
}
