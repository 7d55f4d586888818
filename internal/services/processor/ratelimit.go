package processor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP. Buckets of idle
// clients expire so the table does not grow without bound.
type IPRateLimiter struct {
	ips *cache.Cache
	r   rate.Limit
	b   int
}

func NewIPRateLimiter(r rate.Limit, b int, idle time.Duration) *IPRateLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &IPRateLimiter{
		ips: cache.New(idle, 2*idle),
		r:   r,
		b:   b,
	}
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	if l, ok := i.ips.Get(ip); ok {
		i.ips.SetDefault(ip, l)
		return l.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(i.r, i.b)
	if err := i.ips.Add(ip, limiter, cache.DefaultExpiration); err != nil {
		// lost the race, use the winner
		if l, ok := i.ips.Get(ip); ok {
			return l.(*rate.Limiter)
		}
	}
	return limiter
}

// RateLimiter rejects requests over the per-IP budget with 429.
func RateLimiter(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
