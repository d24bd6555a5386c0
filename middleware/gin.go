// Package middleware exposes callguard's shared limiter and breaker on the
// inbound side as Gin middleware, so a service fronting a fragile dependency
// can shed load before work starts.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tmarkov/callguard/breaker"
	"github.com/tmarkov/callguard/ratelimit"
)

// RateLimit returns middleware that rejects requests over the limiter's
// sliding-window cap with 429 and a Retry-After header. Hand it the same
// limiter instance the outbound executor uses to share one window.
func RateLimit(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := l.TryAdmit()
		if !d.Allowed {
			seconds := int(math.Ceil(d.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// CircuitBreaker returns middleware that fails fast with 503 while the
// breaker is open and reports handler outcomes back to it. Responses with a
// 5xx status count as failures; everything else counts as success.
func CircuitBreaker(b *breaker.Breaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !b.Allow() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": breaker.ErrOpen.Error(),
			})
			return
		}
		c.Next()
		b.OnResult(c.Writer.Status() < http.StatusInternalServerError)
	}
}
