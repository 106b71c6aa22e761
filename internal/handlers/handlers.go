package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/middleware"
	"github.com/example/vision-relay/internal/usecase"
)

// DefaultMaxBodyBytes caps the JSON body of /predict when no limit is configured.
const DefaultMaxBodyBytes int64 = 10 << 20

const missingImageMessage = "image_bytes (base64) is required"

// Only the presence of image_bytes is checked here; its value is judged by the decode step.
type predictRequest struct {
	ImageBytes json.RawMessage `json:"image_bytes"`
}

// Options tunes the HTTP layer.
type Options struct {
	MaxBodyBytes int64

	// PredictMiddleware runs only in front of /predict.
	PredictMiddleware []gin.HandlerFunc
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.PredictionUseCase, logger *zap.Logger, opts Options) {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	logger = logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	predict := func(c *gin.Context) {
		requestID := middleware.GetRequestID(c)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

		var req predictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": missingImageMessage})
			return
		}
		if len(req.ImageBytes) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": missingImageMessage})
			return
		}

		prediction, err := uc.PredictField(c.Request.Context(), requestID, req.ImageBytes)
		if err != nil {
			// Details were logged by the use case; clients only see the classified message.
			c.JSON(http.StatusInternalServerError, gin.H{"error": usecase.KindOf(err).PublicMessage()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"class":      prediction.Class,
			"confidence": prediction.Confidence,
		})
	}
	router.POST("/predict", append(append([]gin.HandlerFunc{}, opts.PredictMiddleware...), predict)...)

	router.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if errors.Is(err, usecase.ErrMetricsUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics unavailable"})
			return
		}
		if err != nil {
			logging.WithOperation(logger, "handlers.metrics", middleware.GetRequestID(c)).Error("failed to aggregate metrics", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
