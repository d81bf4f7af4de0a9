package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a per-client sliding window log kept in Redis.
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger
	rps    int
	burst  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, logger *zap.Logger, rps, burst int) *RateLimiter {
	if burst < rps {
		burst = rps
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		rps:    rps,
		burst:  burst,
		window: time.Second,
		now:    time.Now,
	}
}

// Middleware rejects requests over the burst with 429. Redis errors let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := GetClientID(c)
		if subject == "" {
			subject = c.ClientIP()
		}

		allowed, remaining, err := rl.checkLimit(c.Request.Context(), subject)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, failing open",
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "Too many requests. Please try again later.",
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) checkLimit(ctx context.Context, subject string) (allowed bool, remaining int, err error) {
	now := rl.now().UnixMilli()
	windowStart := now - rl.window.Milliseconds()
	key := "ratelimit:" + subject

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: fmt.Sprintf("%d-%s", now, uuid.NewString()),
	})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, 2*rl.window)

	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	count := int(countCmd.Val())
	remaining = rl.burst - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.burst, remaining, nil
}
