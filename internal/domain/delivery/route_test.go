package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedEstimator(t *testing.T) {
	r := NewEstimator(ModeDemo).EstimateRoute(context.Background(), "Lyon, France", "Paris, France", 42)
	assert.Equal(t, 30*time.Second, r.Duration)
	assert.Equal(t, 5000, r.DistanceMeters)
	assert.Equal(t, "5 km", r.DistanceText)
	assert.Equal(t, "30 secs", r.DurationText)
}

func TestSeededEstimator(t *testing.T) {
	ctx := context.Background()
	e := NewEstimator(ModeRealistic)

	for seed := int64(0); seed < 500; seed++ {
		r := e.EstimateRoute(ctx, "a", "b", seed)
		require.GreaterOrEqual(t, r.Duration, 40*time.Minute, seed)
		require.Less(t, r.Duration, 75*time.Minute, seed)

		hours := r.Duration.Hours()
		km := float64(r.DistanceMeters) / 1000
		require.GreaterOrEqual(t, km, hours*50-0.001, seed)
		require.LessOrEqual(t, km, hours*80+0.001, seed)

		require.Equal(t, r, e.EstimateRoute(ctx, "other", "pair", seed), "seed alone decides the route")
	}
}

func TestSeededEstimator_SpreadsSeeds(t *testing.T) {
	ctx := context.Background()
	e := SeededEstimator{}
	seen := map[time.Duration]struct{}{}
	for seed := int64(1); seed <= 50; seed++ {
		seen[e.EstimateRoute(ctx, "", "", seed*7919).Duration] = struct{}{}
	}
	assert.Greater(t, len(seen), 10)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "40 mins", formatDuration(2400))
	assert.Equal(t, "59 mins", formatDuration(3599))
	assert.Equal(t, "1h 0m", formatDuration(3600))
	assert.Equal(t, "1h 14m", formatDuration(4499))
}

func TestLCG(t *testing.T) {
	g := newLCG(1)
	assert.Equal(t, float64(16806)/2147483646, g.next())

	for _, seed := range []int64{0, 1, 2147483647, 2147483648, 1 << 40} {
		g := newLCG(seed)
		for range 100 {
			v := g.next()
			require.GreaterOrEqual(t, v, 0.0, seed)
			require.Less(t, v, 1.0, seed)
		}
	}

	a, b := newLCG(99), newLCG(99)
	for range 10 {
		assert.Equal(t, a.next(), b.next())
	}
}

type stubProvider struct {
	route Route
	err   error
}

func (p stubProvider) Route(context.Context, string, string, int64) (Route, error) {
	return p.route, p.err
}

func TestWithFallback(t *testing.T) {
	ctx := context.Background()
	want := Route{DistanceMeters: 1200, DistanceText: "1.2 km", Duration: 4 * time.Minute, DurationText: "4 mins"}

	down := stubProvider{err: errors.New("quota exceeded")}

	assert.Equal(t, want, WithFallback(stubProvider{route: want}, FixedEstimator{}).EstimateRoute(ctx, "a", "b", 1))
	assert.Equal(t, FallbackRoute, WithFallback(down, nil).EstimateRoute(ctx, "a", "b", 1))
	assert.Equal(t,
		SeededEstimator{}.EstimateRoute(ctx, "a", "b", 1),
		WithFallback(down, SeededEstimator{}).EstimateRoute(ctx, "a", "b", 1),
	)
}

func TestOrderSeed(t *testing.T) {
	a := OrderSeed("0b7c6a5e-1f0e-4a59-9d59-6d1f3c2a8e11")
	assert.Equal(t, a, OrderSeed("0b7c6a5e-1f0e-4a59-9d59-6d1f3c2a8e11"))
	assert.NotEqual(t, a, OrderSeed("0b7c6a5e-1f0e-4a59-9d59-6d1f3c2a8e12"))
	assert.GreaterOrEqual(t, a, int64(0))
	assert.Equal(t, a+7, legSeed(a, 7))
	assert.Equal(t, a+7+999, transferSeed(a, 7))
}
