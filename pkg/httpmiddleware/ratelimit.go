package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Limiter Limiter
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limit with 429 and a JSON body. Every
// answered request carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. A failing limiter lets the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = defaultKeyFunc
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// window holds the counts of two adjacent fixed windows.
type window struct {
	prev, curr float64
	start      time.Time
}

// MemoryLimiter is a per-process sliding window counter. The count of the
// previous window is weighted by how much of it the sliding window still
// covers.
type MemoryLimiter struct {
	max    int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows max requests per period and key.
func NewMemoryLimiter(max int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     max,
		period:  period,
		windows: make(map[string]*window),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wd, ok := l.windows[key]
	if !ok {
		wd = &window{start: now}
		l.windows[key] = wd
	}
	if elapsed := now.Sub(wd.start); elapsed >= l.period {
		wd.prev, wd.curr = wd.curr, 0
		if elapsed >= 2*l.period {
			wd.prev = 0
		}
		wd.start = now.Truncate(l.period)
	}

	overlap := max(1-now.Sub(wd.start).Seconds()/l.period.Seconds(), 0)
	count := wd.prev*overlap + wd.curr
	d := Decision{Limit: l.max, ResetAt: wd.start.Add(l.period)}
	if count >= float64(l.max) {
		return d, nil
	}

	wd.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(l.max)-count-1), 0)
	return d, nil
}

// Run evicts idle keys every two periods until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *MemoryLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, wd := range l.windows {
		if now.Sub(wd.start) >= 2*l.period {
			delete(l.windows, key)
		}
	}
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyByHeader rate limits per value of header, falling back to the client IP
// for requests that do not carry it.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return defaultKeyFunc(r)
	}
}
