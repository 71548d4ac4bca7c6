package delivery

import (
	"context"
	"time"

	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

// tableEstimator answers fixed durations per "origin>destination" pair and an
// hour for anything else.
type tableEstimator map[string]time.Duration

func (t tableEstimator) EstimateRoute(_ context.Context, origin, destination string, _ int64) Route {
	d, ok := t[origin+">"+destination]
	if !ok {
		d = time.Hour
	}
	return Route{
		DistanceMeters: int(d.Seconds()) * 15,
		DistanceText:   "test",
		Duration:       d,
		DurationText:   formatDuration(int(d.Seconds())),
	}
}

const customer = "1 Rue de Rivoli, 75001, Paris, France"

func stocked(id int64, city string, stock map[int64]int) warehouse.Stocked {
	if stock == nil {
		stock = map[int64]int{}
	}
	return warehouse.Stocked{
		Warehouse: warehouse.Warehouse{
			ID:      id,
			Name:    city + " DC",
			City:    city,
			Country: "France",
		},
		Stock: stock,
	}
}

func leg(city string) string {
	return city + ", France>" + customer
}

func transferLeg(from, to string) string {
	return from + ", France>" + to + ", France"
}
