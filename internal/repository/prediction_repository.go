package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/vision-relay/internal/logging"
)

// StatusOK marks a prediction that was answered successfully.
const StatusOK = "ok"

// PredictionLog is the audit record of a single relayed prediction. RequestID
// is not unique: clients may supply it through X-Request-ID and reuse it.
type PredictionLog struct {
	ID              uint      `gorm:"primaryKey"`
	RequestID       string    `gorm:"column:request_id;index;size:64"`
	Status          string    `gorm:"column:status;size:16;index"`
	Class           string    `gorm:"column:class;size:128"`
	Confidence      float64   `gorm:"column:confidence"`
	LatencyMs       int64     `gorm:"column:latency_ms"`
	DeployedModelID string    `gorm:"column:deployed_model_id;size:64"`
	ImageSHA1       string    `gorm:"column:image_sha1;size:40;index"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// MetricsAggregation holds the raw aggregates computed by the database.
type MetricsAggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	SuccessCount      int64   `gorm:"column:success_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
	AverageLatencyMs  float64 `gorm:"column:average_latency_ms"`
}

// PredictionRepository persists prediction audit logs.
type PredictionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{db: db, logger: logger.Named("prediction_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return logging.NewOperationError("repository.auto_migrate", "", r.db.WithContext(ctx).AutoMigrate(&PredictionLog{}))
}

// SaveLog persists a prediction log entry.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		wrapped := logging.NewOperationError("repository.save_log", log.RequestID, err)
		r.logger.Warn("failed to save prediction log", zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// AggregateMetrics summarises all stored logs.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&PredictionLog{}).
		Select(aggregateSelect, StatusOK, StatusOK).
		Scan(&agg).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.aggregate_metrics", "", err)
	}
	return &agg, nil
}

const aggregateSelect = `COUNT(*) AS total_count,
COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count,
COALESCE(AVG(CASE WHEN status = ? THEN confidence END), 0) AS average_confidence,
COALESCE(AVG(latency_ms), 0) AS average_latency_ms`
