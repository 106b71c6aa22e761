package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/logging"
)

// Allower decides whether a client may issue another request.
type Allower interface {
	Allow(ctx context.Context, client string) (bool, error)
}

// RateLimit rejects clients over their quota with 429. Limiter errors let the
// request through.
func RateLimit(limiter Allower, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("rate_limit")
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.WithOperation(logger, "middleware.rate_limit", GetRequestID(c)).
				Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
