package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/predictor"
	"github.com/example/vision-relay/internal/repository"
)

type stubClient struct {
	result    *predictor.Result
	err       error
	calls     int
	instances []predictor.Instance
	params    predictor.Parameters
}

func (s *stubClient) Predict(ctx context.Context, requestID string, instances []predictor.Instance, params predictor.Parameters) (*predictor.Result, error) {
	s.calls++
	s.instances = instances
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubStore struct {
	saved   []*repository.PredictionLog
	saveErr error
	agg     *repository.MetricsAggregation
	aggErr  error
}

func (s *stubStore) SaveLog(ctx context.Context, log *repository.PredictionLog) error {
	s.saved = append(s.saved, log)
	return s.saveErr
}

func (s *stubStore) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggErr != nil {
		return nil, s.aggErr
	}
	return s.agg, nil
}

func resultOf(predictions ...string) *predictor.Result {
	raw := make([]json.RawMessage, 0, len(predictions))
	for _, p := range predictions {
		raw = append(raw, json.RawMessage(p))
	}
	return &predictor.Result{Predictions: raw, DeployedModelID: "model-1"}
}

var testParams = predictor.Parameters{ConfidenceThreshold: 0.5, MaxPredictions: 5}

func TestPredictReturnsTopPrediction(t *testing.T) {
	client := &stubClient{result: resultOf(`{"displayNames":["good","ugly"],"confidences":[0.95,0.05]}`)}
	uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())

	got, err := uc.Predict(context.Background(), "req-1", base64.StdEncoding.EncodeToString([]byte("image")))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got.Class != "good" || got.Confidence != 0.95 {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if client.params != testParams {
		t.Fatalf("expected configured parameters to be forwarded, got %+v", client.params)
	}
}

func TestPredictKeepsImageContentIntact(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff, 0x10}
	encoded := base64.StdEncoding.EncodeToString(payload)
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[1]}`)}
	uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())

	if _, err := uc.Predict(context.Background(), "req-rt", encoded); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(client.instances) != 1 {
		t.Fatalf("expected one instance, got %d", len(client.instances))
	}
	if client.instances[0].Content != encoded {
		t.Fatalf("expected content %q, got %q", encoded, client.instances[0].Content)
	}
}

func TestPredictIsIdempotentForDeterministicService(t *testing.T) {
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.7]}`)}
	uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())
	encoded := base64.StdEncoding.EncodeToString([]byte("same"))

	first, err := uc.Predict(context.Background(), "req-a", encoded)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := uc.Predict(context.Background(), "req-b", encoded)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if *first != *second {
		t.Fatalf("expected identical predictions, got %+v and %+v", first, second)
	}
}

func TestPredictRejectsInvalidBase64WithoutRemoteCall(t *testing.T) {
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.9]}`)}
	uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())

	_, err := uc.Predict(context.Background(), "req-2", "%%%")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if KindOf(err) != KindDecode {
		t.Fatalf("expected decode error, got %v", KindOf(err))
	}
	if client.calls != 0 {
		t.Fatalf("expected no remote call, got %d", client.calls)
	}
}

func TestPredictClassifiesRemoteFailure(t *testing.T) {
	remoteErr := errors.New("unavailable")
	client := &stubClient{err: remoteErr}
	uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())

	_, err := uc.Predict(context.Background(), "req-3", "aW1hZ2U=")
	if KindOf(err) != KindUpstream {
		t.Fatalf("expected upstream error, got %v (%v)", KindOf(err), err)
	}
	if !errors.Is(err, remoteErr) {
		t.Fatal("expected remote error to stay in the chain")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.remote_predict" || opErr.RequestID != "req-3" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestPredictReportsParseFailures(t *testing.T) {
	cases := map[string]*predictor.Result{
		"no predictions":         resultOf(),
		"missing displayNames":   resultOf(`{"confidences":[0.9]}`),
		"missing confidences":    resultOf(`{"displayNames":["good"]}`),
		"empty displayNames":     resultOf(`{"displayNames":[],"confidences":[0.9]}`),
		"non numeric confidence": resultOf(`{"displayNames":["good"],"confidences":["high"]}`),
	}

	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			uc := NewPredictionUseCase(&stubClient{result: result}, nil, testParams, zap.NewNop())
			_, err := uc.Predict(context.Background(), "req-parse", "aW1hZ2U=")
			if KindOf(err) != KindParse {
				t.Fatalf("expected parse error, got %v (%v)", KindOf(err), err)
			}
		})
	}
}

func TestPredictAuditsOutcomes(t *testing.T) {
	store := &stubStore{saveErr: errors.New("db down")}
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.8]}`)}
	uc := NewPredictionUseCase(client, store, testParams, zap.NewNop())

	if _, err := uc.Predict(context.Background(), "req-ok", "aW1hZ2U="); err != nil {
		t.Fatalf("audit failure must not fail the request: %v", err)
	}
	if _, err := uc.Predict(context.Background(), "req-bad", "%%%"); err == nil {
		t.Fatal("expected decode error")
	}

	if len(store.saved) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(store.saved))
	}
	ok := store.saved[0]
	if ok.Status != repository.StatusOK || ok.Class != "good" || ok.DeployedModelID != "model-1" || ok.ImageSHA1 == "" {
		t.Fatalf("unexpected success entry: %+v", ok)
	}
	if failed := store.saved[1]; failed.Status != "decode" || failed.RequestID != "req-bad" {
		t.Fatalf("unexpected failure entry: %+v", failed)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	uc := NewPredictionUseCase(&stubClient{}, nil, testParams, zap.NewNop())
	if _, err := uc.GetMetricsSummary(context.Background()); !errors.Is(err, ErrMetricsUnavailable) {
		t.Fatalf("expected ErrMetricsUnavailable, got %v", err)
	}

	store := &stubStore{agg: &repository.MetricsAggregation{TotalCount: 4, SuccessCount: 3, AverageConfidence: 0.9, AverageLatencyMs: 120}}
	uc = NewPredictionUseCase(&stubClient{}, store, testParams, zap.NewNop())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.SuccessRate != 0.75 || summary.TotalRequests != 4 || summary.AverageLatencyMs != 120 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestErrorKindPublicMessages(t *testing.T) {
	if KindParse.PublicMessage() != "failed to parse prediction response" {
		t.Fatalf("unexpected parse message: %s", KindParse.PublicMessage())
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("expected unknown kind for unclassified errors")
	}
	if KindUnknown.PublicMessage() != "internal server error" {
		t.Fatalf("unexpected fallback message: %s", KindUnknown.PublicMessage())
	}
}

func TestPredictLogsAuditFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &stubStore{saveErr: errors.New("duplicate key")}
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.8]}`)}
	uc := NewPredictionUseCase(client, store, testParams, zap.New(core))

	if _, err := uc.Predict(context.Background(), "req-audit", "aW1hZ2U="); err != nil {
		t.Fatalf("audit failure must not fail the request: %v", err)
	}

	entries := logs.FilterMessage("failed to record prediction audit log").All()
	if len(entries) != 1 {
		t.Fatalf("expected one audit warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-audit" || fields["operation"] != "usecase.audit" {
		t.Fatalf("unexpected audit warning fields: %v", fields)
	}
}

func TestPredictAuditsRepeatedRequestIDs(t *testing.T) {
	store := &stubStore{}
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.8]}`)}
	uc := NewPredictionUseCase(client, store, testParams, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := uc.Predict(context.Background(), "client-r1", "aW1hZ2U="); err != nil {
			t.Fatalf("call %d failed: %v", i+1, err)
		}
	}
	if len(store.saved) != 2 {
		t.Fatalf("expected both calls audited, got %d", len(store.saved))
	}
	if store.saved[0].RequestID != "client-r1" || store.saved[1].RequestID != "client-r1" {
		t.Fatalf("unexpected request ids: %s, %s", store.saved[0].RequestID, store.saved[1].RequestID)
	}
}

func TestPredictFieldChecksValueType(t *testing.T) {
	for _, raw := range []string{`null`, `123`, `{"b64":"aW1hZ2U="}`, `true`} {
		client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.9]}`)}
		uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())

		_, err := uc.PredictField(context.Background(), "req-field", []byte(raw))
		if KindOf(err) != KindDecode {
			t.Fatalf("%s: expected decode error, got %v (%v)", raw, KindOf(err), err)
		}
		if client.calls != 0 {
			t.Fatalf("%s: expected no remote call, got %d", raw, client.calls)
		}
	}
}

func TestPredictFieldForwardsEmptyString(t *testing.T) {
	client := &stubClient{result: resultOf(`{"displayNames":["good"],"confidences":[0.9]}`)}
	uc := NewPredictionUseCase(client, nil, testParams, zap.NewNop())

	if _, err := uc.PredictField(context.Background(), "req-empty", []byte(`""`)); err != nil {
		t.Fatalf("expected empty image to be forwarded, got %v", err)
	}
	if client.calls != 1 || client.instances[0].Content != "" {
		t.Fatalf("expected one remote call with empty content, got %d calls %+v", client.calls, client.instances)
	}
}
