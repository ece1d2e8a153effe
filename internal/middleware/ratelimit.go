package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// RateLimiter is a fixed-window limiter shared by every server instance
// through Redis. Requests are counted per principal, or per IP before
// authentication.
type RateLimiter struct {
	rdb    *redis.Client
	rate   int
	window time.Duration
	scope  string
	log    zerolog.Logger
}

// NewRateLimiter creates a RateLimiter allowing rate requests per window.
// scope namespaces the counters so routes can be limited independently.
func NewRateLimiter(rdb *redis.Client, scope string, rate int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		rate:   rate,
		window: window,
		scope:  scope,
		log:    log.With().Str("component", "rate_limiter").Str("scope", scope).Logger(),
	}
}

// Middleware returns a Gin middleware enforcing the limit. A Redis failure
// lets the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		caller := "ip:" + c.ClientIP()
		if p, ok := GetPrincipal(c); ok {
			caller = "sub:" + p.Subject
		}
		slot := time.Now().UnixNano() / int64(rl.window)
		key := fmt.Sprintf("ratelimit:%s:%s:%d", rl.scope, caller, slot)

		ctx := c.Request.Context()
		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		if incr.Val() > int64(rl.rate) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
