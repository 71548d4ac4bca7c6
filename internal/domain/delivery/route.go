package delivery

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Route is an estimated travel leg between two place strings.
type Route struct {
	DistanceMeters int
	DistanceText   string
	Duration       time.Duration
	DurationText   string
}

// FallbackRoute is used when a route source cannot answer.
var FallbackRoute = Route{
	DistanceMeters: 50000,
	DistanceText:   "50 km",
	Duration:       time.Hour,
	DurationText:   "1 hour",
}

var demoRoute = Route{
	DistanceMeters: 5000,
	DistanceText:   "5 km",
	Duration:       30 * time.Second,
	DurationText:   "30 secs",
}

// Estimator estimates travel legs. Implementations never fail; WithFallback
// turns a failing Provider into an Estimator.
type Estimator interface {
	EstimateRoute(ctx context.Context, origin, destination string, seed int64) Route
}

// Provider is a route source that may fail, such as a mapping API or a cache.
type Provider interface {
	Route(ctx context.Context, origin, destination string, seed int64) (Route, error)
}

// NewEstimator returns the built-in estimator for mode.
func NewEstimator(mode Mode) Estimator {
	if mode == ModeDemo {
		return FixedEstimator{}
	}
	return SeededEstimator{}
}

// FixedEstimator returns the same short leg for every pair.
type FixedEstimator struct{}

// EstimateRoute implements Estimator.
func (FixedEstimator) EstimateRoute(context.Context, string, string, int64) Route {
	return demoRoute
}

// SeededEstimator derives a plausible 40-75 minute leg at 50-80 km/h from the
// seed alone. Equal seeds always produce equal routes.
type SeededEstimator struct{}

const (
	minLegSeconds = 2400
	maxLegSeconds = 4500
	minSpeedKmh   = 50
	maxSpeedKmh   = 80
)

// EstimateRoute implements Estimator.
func (SeededEstimator) EstimateRoute(_ context.Context, _, _ string, seed int64) Route {
	rng := newLCG(seed)
	seconds := minLegSeconds + int(math.Floor(rng.next()*(maxLegSeconds-minLegSeconds)))
	speed := minSpeedKmh + rng.next()*(maxSpeedKmh-minSpeedKmh)
	km := float64(seconds) / 3600 * speed

	return Route{
		DistanceMeters: int(math.Round(km * 1000)),
		DistanceText:   fmt.Sprintf("%.1f km", km),
		Duration:       time.Duration(seconds) * time.Second,
		DurationText:   formatDuration(seconds),
	}
}

func formatDuration(seconds int) string {
	h := seconds / 3600
	m := seconds % 3600 / 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%d mins", m)
}

// WithFallback adapts p into an Estimator. When p fails the fallback
// estimator answers, or FallbackRoute when fallback is nil.
func WithFallback(p Provider, fallback Estimator) Estimator {
	return fallbackEstimator{p: p, fallback: fallback}
}

type fallbackEstimator struct {
	p        Provider
	fallback Estimator
}

func (f fallbackEstimator) EstimateRoute(ctx context.Context, origin, destination string, seed int64) Route {
	r, err := f.p.Route(ctx, origin, destination, seed)
	if err == nil {
		return r
	}
	zctx.From(ctx).Warn("Route estimate failed, using fallback",
		zap.String("origin", origin),
		zap.String("destination", destination),
		zap.Error(err),
	)
	if f.fallback == nil {
		return FallbackRoute
	}
	return f.fallback.EstimateRoute(ctx, origin, destination, seed)
}

// Seeds: the order seed is stable for an order id, the leg seed mixes in the
// warehouse id and transfer legs add a fixed offset on top.
const transferSeedOffset = 999

// OrderSeed derives the deterministic seed of an order.
func OrderSeed(orderID string) int64 {
	// Keep it positive and well below MaxInt64 so offsets cannot overflow.
	return int64(xxhash.Sum64String(orderID) >> 33)
}

func legSeed(orderSeed, warehouseID int64) int64 {
	return orderSeed + warehouseID
}

func transferSeed(orderSeed, warehouseID int64) int64 {
	return orderSeed + warehouseID + transferSeedOffset
}

// lcg is the Park-Miller minimal standard generator.
type lcg struct {
	value int64
}

const (
	lcgModulus    = 2147483647
	lcgMultiplier = 16807
)

func newLCG(seed int64) *lcg {
	v := seed % lcgModulus
	if v <= 0 {
		v += lcgModulus - 1
	}
	return &lcg{value: v}
}

// next returns a value in [0, 1).
func (g *lcg) next() float64 {
	g.value = g.value * lcgMultiplier % lcgModulus
	return float64(g.value-1) / (lcgModulus - 1)
}
