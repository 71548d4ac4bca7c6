package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

const (
	productLamp  int64 = 1
	productChair int64 = 2
	productRug   int64 = 3
)

func TestAllocate_SingleWarehouse(t *testing.T) {
	a := NewAllocator(tableEstimator{leg("Paris"): 10 * time.Minute})
	alloc, err := a.Allocate(context.Background(), 1,
		[]Line{{ProductID: productLamp, Quantity: 3}},
		[]warehouse.Stocked{stocked(1, "Paris", map[int64]int{productLamp: 3})},
		customer,
	)
	require.NoError(t, err)

	assert.Equal(t, int64(1), alloc.Hub.Warehouse.ID)
	assert.False(t, alloc.Consolidating())
	assert.Empty(t, alloc.Transfers)
	assert.Zero(t, alloc.MaxTransfer)
	assert.Equal(t, Fulfilled, alloc.Status())
	assert.Equal(t, []Reservation{{WarehouseID: 1, ProductID: productLamp, Quantity: 3}}, alloc.Reservations())
}

func TestAllocate_ConsolidatesToNearestHub(t *testing.T) {
	routes := tableEstimator{
		leg("Paris"):                  20 * time.Minute,
		leg("Lyon"):                   4 * time.Hour,
		transferLeg("Lyon", "Paris"):  3 * time.Hour,
		transferLeg("Lille", "Paris"): 2 * time.Hour,
		leg("Lille"):                  2 * time.Hour,
	}
	a := NewAllocator(routes)

	alloc, err := a.Allocate(context.Background(), 1,
		[]Line{{ProductID: productLamp, Quantity: 5}, {ProductID: productChair, Quantity: 1}},
		[]warehouse.Stocked{
			stocked(1, "Lyon", map[int64]int{productLamp: 10}),
			stocked(2, "Paris", map[int64]int{productLamp: 2}),
			stocked(3, "Lille", map[int64]int{productLamp: 1, productChair: 4}),
		},
		customer,
	)
	require.NoError(t, err)

	assert.Equal(t, int64(2), alloc.Hub.Warehouse.ID)
	assert.Equal(t, []int64{2, 3, 1}, rankedIDs(alloc.Ranked))
	require.Len(t, alloc.Shipments, 3)
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 2}}, alloc.Shipments[0].Items)
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 1}, {ProductID: productChair, Quantity: 1}}, alloc.Shipments[1].Items)
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 2}}, alloc.Shipments[2].Items)

	require.Len(t, alloc.Transfers, 2)
	assert.Equal(t, int64(3), alloc.Transfers[0].From.ID)
	assert.Equal(t, int64(2), alloc.Transfers[0].To.ID)
	assert.Equal(t, 2*time.Hour, alloc.Transfers[0].Route.Duration)
	assert.Equal(t, int64(1), alloc.Transfers[1].From.ID)
	assert.Equal(t, 3*time.Hour, alloc.Transfers[1].Route.Duration)

	// Transfers run in parallel: the slowest one gates the hub.
	assert.Equal(t, 3*time.Hour, alloc.MaxTransfer)
	assert.True(t, alloc.Consolidating())
	assert.Equal(t, Fulfilled, alloc.Status())
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 5}, {ProductID: productChair, Quantity: 1}}, alloc.Fulfilled())
}

func TestAllocate_StopsWhenDemandMet(t *testing.T) {
	a := NewAllocator(tableEstimator{leg("Paris"): time.Minute, leg("Lyon"): 2 * time.Minute})
	alloc, err := a.Allocate(context.Background(), 1,
		[]Line{{ProductID: productLamp, Quantity: 2}},
		[]warehouse.Stocked{
			stocked(1, "Paris", map[int64]int{productLamp: 5}),
			stocked(2, "Lyon", map[int64]int{productLamp: 5}),
		},
		customer,
	)
	require.NoError(t, err)
	require.Len(t, alloc.Shipments, 1)
	assert.Empty(t, alloc.Transfers)
}

func TestAllocate_HubSkipsEmptyNearest(t *testing.T) {
	a := NewAllocator(tableEstimator{leg("Paris"): time.Minute, leg("Lyon"): 2 * time.Hour})
	alloc, err := a.Allocate(context.Background(), 1,
		[]Line{{ProductID: productRug, Quantity: 1}},
		[]warehouse.Stocked{
			stocked(1, "Lyon", map[int64]int{productRug: 1}),
			stocked(2, "Paris", map[int64]int{productLamp: 9}),
		},
		customer,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), alloc.Hub.Warehouse.ID)
	assert.Empty(t, alloc.Transfers)
}

func TestAllocate_NothingInStock(t *testing.T) {
	a := NewAllocator(tableEstimator{leg("Paris"): time.Minute, leg("Lyon"): 2 * time.Hour})
	demand := []Line{{ProductID: productChair, Quantity: 2}, {ProductID: productLamp, Quantity: 4}}

	alloc, err := a.Allocate(context.Background(), 1, demand,
		[]warehouse.Stocked{stocked(1, "Lyon", nil), stocked(2, "Paris", map[int64]int{productRug: 3})},
		customer,
	)
	require.NoError(t, err)

	assert.Equal(t, int64(2), alloc.Hub.Warehouse.ID, "nearest warehouse is the fallback hub")
	assert.Equal(t, Partial, alloc.Status())
	assert.Empty(t, alloc.Shipments)
	assert.Empty(t, alloc.Reservations())
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 4}, {ProductID: productChair, Quantity: 2}}, alloc.Unfulfilled)
}

func TestAllocate_PartialShortfall(t *testing.T) {
	a := NewAllocator(tableEstimator{})
	alloc, err := a.Allocate(context.Background(), 1,
		[]Line{{ProductID: productLamp, Quantity: 5}},
		[]warehouse.Stocked{stocked(1, "Paris", map[int64]int{productLamp: 3})},
		customer,
	)
	require.NoError(t, err)
	assert.Equal(t, Partial, alloc.Status())
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 2}}, alloc.Unfulfilled)
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 3}}, alloc.Fulfilled())
}

func TestAllocate_TiesKeepInputOrder(t *testing.T) {
	a := NewAllocator(tableEstimator{})
	warehouses := []warehouse.Stocked{
		stocked(7, "Nantes", map[int64]int{productLamp: 1}),
		stocked(3, "Lyon", map[int64]int{productLamp: 1}),
		stocked(5, "Lille", map[int64]int{productLamp: 1}),
	}
	alloc, err := a.Allocate(context.Background(), 1, []Line{{ProductID: productLamp, Quantity: 1}}, warehouses, customer)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3, 5}, rankedIDs(alloc.Ranked))
	assert.Equal(t, int64(7), alloc.Hub.Warehouse.ID)
}

func TestAllocate_NoWarehouses(t *testing.T) {
	_, err := NewAllocator(tableEstimator{}).Allocate(context.Background(), 1, []Line{{ProductID: 1, Quantity: 1}}, nil, customer)
	require.ErrorIs(t, err, ErrNoWarehouses)
}

func TestAllocate_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(NewEstimator(ModeRealistic))
	warehouses := []warehouse.Stocked{
		stocked(1, "Paris", map[int64]int{productLamp: 1}),
		stocked(2, "Lyon", map[int64]int{productLamp: 1, productChair: 1}),
		stocked(3, "Lille", map[int64]int{productChair: 2}),
	}
	demand := []Line{{ProductID: productChair, Quantity: 2}, {ProductID: productLamp, Quantity: 2}}
	seed := OrderSeed("order-1")

	first, err := a.Allocate(ctx, seed, demand, warehouses, customer)
	require.NoError(t, err)
	second, err := a.Allocate(ctx, seed, demand, warehouses, customer)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReplay_MatchesAllocation(t *testing.T) {
	ctx := context.Background()
	routes := tableEstimator{
		leg("Paris"):                 time.Minute,
		leg("Lyon"):                  time.Hour,
		transferLeg("Lyon", "Paris"): 2 * time.Hour,
	}
	a := NewAllocator(routes)
	demand := []Line{{ProductID: productLamp, Quantity: 4}}
	before := []warehouse.Stocked{
		stocked(1, "Paris", map[int64]int{productLamp: 1}),
		stocked(2, "Lyon", map[int64]int{productLamp: 5}),
	}
	alloc, err := a.Allocate(ctx, 9, demand, before, customer)
	require.NoError(t, err)

	// Stock after the reservation no longer matches what was sourced.
	after := []warehouse.Stocked{
		stocked(1, "Paris", map[int64]int{}),
		stocked(2, "Lyon", map[int64]int{productLamp: 2}),
	}
	replayed, err := a.Replay(ctx, 9, demand, after, customer, alloc.Hub.Warehouse.ID, alloc.Reservations())
	require.NoError(t, err)

	assert.Equal(t, alloc.Hub.Warehouse.ID, replayed.Hub.Warehouse.ID)
	assert.Equal(t, alloc.Shipments, replayed.Shipments)
	assert.Equal(t, alloc.Transfers, replayed.Transfers)
	assert.Equal(t, alloc.MaxTransfer, replayed.MaxTransfer)
	assert.Equal(t, alloc.Unfulfilled, replayed.Unfulfilled)
}

func TestReplay_UnknownWarehouse(t *testing.T) {
	a := NewAllocator(tableEstimator{})
	replayed, err := a.Replay(context.Background(), 1,
		[]Line{{ProductID: productLamp, Quantity: 3}},
		[]warehouse.Stocked{stocked(1, "Paris", nil)},
		customer, 1,
		[]Reservation{{WarehouseID: 1, ProductID: productLamp, Quantity: 1}, {WarehouseID: 42, ProductID: productLamp, Quantity: 1}},
	)
	require.NoError(t, err)
	require.Len(t, replayed.Shipments, 2)
	assert.Equal(t, int64(42), replayed.Shipments[1].Warehouse.ID)
	assert.Equal(t, []Line{{ProductID: productLamp, Quantity: 1}}, replayed.Unfulfilled)
}

func TestNormalize(t *testing.T) {
	got := Normalize([]Line{
		{ProductID: 3, Quantity: 1},
		{ProductID: 1, Quantity: 2},
		{ProductID: 3, Quantity: 4},
		{ProductID: 2, Quantity: 0},
	})
	assert.Equal(t, []Line{{ProductID: 1, Quantity: 2}, {ProductID: 3, Quantity: 5}}, got)
}

func rankedIDs(cs []Candidate) []int64 {
	ids := make([]int64, len(cs))
	for i, c := range cs {
		ids[i] = c.Warehouse.ID
	}
	return ids
}
