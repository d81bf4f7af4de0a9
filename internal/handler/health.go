package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store       Pinger
	redisClient *redis.Client
	optional    map[string]Pinger
}

func NewHealthHandler(store Pinger, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		store:       store,
		redisClient: redisClient,
		optional:    make(map[string]Pinger),
	}
}

// WithOptional reports p under name in readiness output without letting it
// fail readiness.
func (h *HealthHandler) WithOptional(name string, p Pinger) *HealthHandler {
	h.optional[name] = p
	return h
}

// Liveness handles GET /health
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Readiness handles GET /health/ready. Only the store decides readiness.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	healthy := true

	if h.redisClient != nil {
		if err := h.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	for name, p := range h.optional {
		if err := p.Ping(c.Request.Context()); err != nil {
			checks[name] = "unhealthy: " + err.Error()
		} else {
			checks[name] = "healthy"
		}
	}

	if h.store == nil {
		checks["store"] = "not configured"
		healthy = false
	} else if err := h.store.Ping(c.Request.Context()); err != nil {
		checks["store"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["store"] = "healthy"
	}

	status := http.StatusOK
	statusText := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "not ready"
	}

	c.JSON(status, gin.H{
		"status": statusText,
		"checks": checks,
	})
}
