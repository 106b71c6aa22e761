package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/predictor"
	"github.com/example/vision-relay/internal/repository"
)

// PredictionStore defines the audit operations needed by the use case.
type PredictionStore interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Prediction is the simplified answer returned to the mobile client.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// PredictionUseCase relays one image to the prediction service and reduces the reply.
type PredictionUseCase struct {
	client predictor.Client
	store  PredictionStore
	params predictor.Parameters
	logger *zap.Logger
	now    func() time.Time
}

// NewPredictionUseCase constructs a new use case instance. store may be nil,
// in which case predictions are not audited and metrics are unavailable.
func NewPredictionUseCase(client predictor.Client, store PredictionStore, params predictor.Parameters, logger *zap.Logger) *PredictionUseCase {
	return &PredictionUseCase{
		client: client,
		store:  store,
		params: params,
		logger: logger.Named("prediction_usecase"),
		now:    time.Now,
	}
}

// Predict decodes encodedImage, forwards it and returns the top prediction.
// Every error is a *PredictionError.
func (uc *PredictionUseCase) Predict(ctx context.Context, requestID, encodedImage string) (*Prediction, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)
	started := uc.now()

	imageBytes, err := base64.StdEncoding.DecodeString(encodedImage)
	if err != nil {
		return nil, uc.fail(ctx, opLogger, requestID, started, nil, KindDecode, "usecase.decode_image", err)
	}

	// The service wants its own base64 string; the decoded bytes are never altered.
	instances := []predictor.Instance{{Content: base64.StdEncoding.EncodeToString(imageBytes)}}

	result, err := uc.client.Predict(ctx, requestID, instances, uc.params)
	if err != nil {
		return nil, uc.fail(ctx, opLogger, requestID, started, imageBytes, KindUpstream, "usecase.remote_predict", err)
	}

	prediction, err := parseTopPrediction(result)
	if err != nil {
		return nil, uc.fail(ctx, opLogger, requestID, started, imageBytes, KindParse, "usecase.parse_prediction", err)
	}

	latency := uc.now().Sub(started)
	opLogger.Info("prediction served",
		zap.String("class", prediction.Class),
		zap.Float64("confidence", prediction.Confidence),
		zap.String("deployed_model_id", result.DeployedModelID),
		zap.Duration("latency", latency),
	)

	uc.audit(ctx, &repository.PredictionLog{
		RequestID:       requestID,
		Status:          repository.StatusOK,
		Class:           prediction.Class,
		Confidence:      prediction.Confidence,
		LatencyMs:       latency.Milliseconds(),
		DeployedModelID: result.DeployedModelID,
		ImageSHA1:       imageDigest(imageBytes),
		CreatedAt:       uc.now().UTC(),
	})

	return prediction, nil
}

// PredictField is Predict for the raw JSON value of the image_bytes field.
// Any value that is not a JSON string, null included, fails decoding.
func (uc *PredictionUseCase) PredictField(ctx context.Context, requestID string, field []byte) (*Prediction, error) {
	value := gjson.ParseBytes(field)
	if value.Type != gjson.String {
		opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)
		return nil, uc.fail(ctx, opLogger, requestID, uc.now(), nil, KindDecode, "usecase.decode_image", errImageNotString)
	}
	return uc.Predict(ctx, requestID, value.String())
}

func (uc *PredictionUseCase) fail(ctx context.Context, opLogger *zap.Logger, requestID string, started time.Time, imageBytes []byte, kind ErrorKind, operation string, err error) error {
	predErr := &PredictionError{Kind: kind, Err: logging.NewOperationError(operation, requestID, err)}
	opLogger.Error("prediction failed",
		zap.Stringer("kind", kind),
		zap.String("failed_operation", logging.OperationOf(predErr)),
		zap.Error(predErr),
	)

	uc.audit(ctx, &repository.PredictionLog{
		RequestID: requestID,
		Status:    kind.String(),
		LatencyMs: uc.now().Sub(started).Milliseconds(),
		ImageSHA1: imageDigest(imageBytes),
		CreatedAt: uc.now().UTC(),
	})
	return predErr
}

// audit failures are logged and never change the response.
func (uc *PredictionUseCase) audit(ctx context.Context, log *repository.PredictionLog) {
	if uc.store == nil {
		return
	}
	if err := uc.store.SaveLog(ctx, log); err != nil {
		logging.WithOperation(uc.logger, "usecase.audit", log.RequestID).
			Warn("failed to record prediction audit log", zap.String("status", log.Status), zap.Error(err))
	}
}

func parseTopPrediction(result *predictor.Result) (*Prediction, error) {
	if result == nil || len(result.Predictions) == 0 {
		return nil, errNoPredictions
	}
	first := result.Predictions[0]

	name := gjson.GetBytes(first, "displayNames.0")
	if !name.Exists() || name.Type != gjson.String {
		return nil, errMissingName
	}

	score := gjson.GetBytes(first, "confidences.0")
	if !score.Exists() {
		return nil, errMissingScore
	}
	if score.Type != gjson.Number {
		return nil, errInvalidScore
	}

	return &Prediction{Class: name.String(), Confidence: score.Float()}, nil
}

func imageDigest(imageBytes []byte) string {
	if imageBytes == nil {
		return ""
	}
	sum := sha1.Sum(imageBytes)
	return hex.EncodeToString(sum[:])
}
