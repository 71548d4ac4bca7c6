// Package redis caches route estimates in Redis.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
)

const (
	fieldDistanceMeters = "distance_m"
	fieldDistanceText   = "distance_text"
	fieldDurationSecs   = "duration_s"
	fieldDurationText   = "duration_text"
)

// RouteCache is a read-through cache in front of a route estimator. It is a
// delivery.Provider: Redis read failures are returned so that
// delivery.WithFallback can answer from the estimator instead.
type RouteCache struct {
	rdb       rd.UniversalClient
	inner     delivery.Estimator
	namespace string
	ttl       time.Duration
}

var _ delivery.Provider = (*RouteCache)(nil)

// NewRouteCache wraps inner. Keys are prefixed with namespace so that
// estimators of different timing modes never share entries.
func NewRouteCache(rdb rd.UniversalClient, inner delivery.Estimator, namespace string, ttl time.Duration) *RouteCache {
	return &RouteCache{rdb: rdb, inner: inner, namespace: namespace, ttl: ttl}
}

// Key returns the cache key of a leg.
func (c *RouteCache) Key(origin, destination string, seed int64) string {
	pair := xxhash.Sum64String(origin + "\x00" + destination)
	return "homedeco:route:" + c.namespace + ":" + strconv.FormatUint(pair, 16) + ":" + strconv.FormatInt(seed, 10)
}

// Route implements delivery.Provider. A failed write is logged and the
// computed route is still returned.
func (c *RouteCache) Route(ctx context.Context, origin, destination string, seed int64) (delivery.Route, error) {
	key := c.Key(origin, destination, seed)

	r, ok, err := c.get(ctx, key)
	if err != nil {
		return delivery.Route{}, errors.Wrapf(err, "read %s", key)
	}
	if ok {
		return r, nil
	}

	r = c.inner.EstimateRoute(ctx, origin, destination, seed)
	if err := c.put(ctx, key, r); err != nil {
		zctx.From(ctx).Warn("Route cache write failed", zap.String("key", key), zap.Error(err))
	}
	return r, nil
}

func (c *RouteCache) get(ctx context.Context, key string) (delivery.Route, bool, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return delivery.Route{}, false, errors.Wrap(err, "hgetall")
	}
	if len(m) == 0 {
		return delivery.Route{}, false, nil
	}

	meters, err := strconv.Atoi(m[fieldDistanceMeters])
	if err != nil {
		return delivery.Route{}, false, errors.Wrap(err, "parse distance")
	}
	secs, err := strconv.ParseInt(m[fieldDurationSecs], 10, 64)
	if err != nil {
		return delivery.Route{}, false, errors.Wrap(err, "parse duration")
	}
	return delivery.Route{
		DistanceMeters: meters,
		DistanceText:   m[fieldDistanceText],
		Duration:       time.Duration(secs) * time.Second,
		DurationText:   m[fieldDurationText],
	}, true, nil
}

func (c *RouteCache) put(ctx context.Context, key string, r delivery.Route) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldDistanceMeters, r.DistanceMeters,
		fieldDistanceText, r.DistanceText,
		fieldDurationSecs, int64(r.Duration/time.Second),
		fieldDurationText, r.DurationText,
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "exec")
	}
	return nil
}
