package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	IdempotencyHitHeader = "X-Idempotency-Hit"

	idempotencyLockTTL = 30 * time.Second
)

type cachedResponse struct {
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
	Fingerprint string          `json:"fingerprint"`
}

// fingerprint hashes the request body so a reused key with a different
// payload can be told apart from a retry.
func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// captureWriter tees the response body so it can be cached.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a client repeats a request with
// the same Idempotency-Key. Keys are scoped per client and route, and a key
// reused with a different body is rejected with 422. Requests without the
// header pass through; Redis errors fail open.
func Idempotency(client *redis.Client, logger *zap.Logger, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Request body could not be read",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		fp := fingerprint(body)

		ctx := c.Request.Context()
		cacheKey := "idempotency:" + GetClientID(c) + ":" + c.FullPath() + ":" + key
		log := logger.With(zap.String("request_id", GetRequestID(c)), zap.String("idempotency_key", key))

		raw, err := client.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				if cached.Fingerprint != "" && cached.Fingerprint != fp {
					c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
						"code":    "IDEMPOTENCY_KEY_REUSED",
						"message": "Idempotency-Key was already used with a different request body",
					})
					return
				}
				log.Debug("idempotency hit")
				c.Header(IdempotencyHitHeader, "true")
				c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
				c.Abort()
				return
			}
			log.Warn("discarding unreadable idempotency entry")
		case !errors.Is(err, redis.Nil):
			log.Warn("idempotency store unavailable, failing open", zap.Error(err))
			c.Next()
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := client.SetNX(ctx, lockKey, "1", idempotencyLockTTL).Result()
		if err != nil {
			log.Warn("idempotency store unavailable, failing open", zap.Error(err))
			c.Next()
			return
		}
		if !locked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"code":    "IDEMPOTENCY_IN_PROGRESS",
				"message": "A request with this Idempotency-Key is still being processed",
			})
			return
		}
		defer client.Del(ctx, lockKey)

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if w.Status() >= http.StatusInternalServerError || !json.Valid(w.body.Bytes()) {
			return
		}
		payload, err := json.Marshal(cachedResponse{Status: w.Status(), Body: w.body.Bytes(), Fingerprint: fp})
		if err != nil {
			return
		}
		if err := client.Set(ctx, cacheKey, payload, ttl).Err(); err != nil {
			log.Warn("failed to store idempotent response", zap.Error(err))
		}
	}
}
