package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	apperrors "github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/metrics"
	"github.com/charlesng35/campusgate/pkg/response"
)

const (
	defaultLimiterCapacity = 10000
	defaultLimiterIdleTTL  = 10 * time.Minute
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

// IPRateLimiter keeps one token bucket per client address. Idle buckets are evicted.
type IPRateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewIPRateLimiter builds a limiter allowing requestsPerSecond with the given burst per key.
func NewIPRateLimiter(requestsPerSecond float64, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](defaultLimiterCapacity, nil, defaultLimiterIdleTTL),
	}
}

// Allow consumes one token from the bucket of key.
func (l *IPRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, bucket)
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// RateLimit rejects requests the limiter refuses with 429. A nil limiter disables it.
func RateLimit(limiter Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if !limiter.Allow(c.ClientIP()) {
			m.ObserveRateLimited()
			c.Header("Retry-After", strconv.Itoa(1))
			response.Abort(c, apperrors.ErrRateLimit)
			return
		}
		c.Next()
	}
}
