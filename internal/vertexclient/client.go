package vertexclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/predictor"
)

// Target identifies the online prediction endpoint.
type Target struct {
	ProjectID  string
	Location   string
	EndpointID string

	// RequestTimeout bounds each Predict call; zero leaves the SDK default in place.
	RequestTimeout time.Duration
}

// EndpointName returns the fully qualified endpoint resource name. An
// EndpointID that is already a resource name is returned as is.
func (t Target) EndpointName() string {
	if strings.HasPrefix(t.EndpointID, "projects/") {
		return t.EndpointID
	}
	return fmt.Sprintf("projects/%s/locations/%s/endpoints/%s", t.ProjectID, t.Location, t.EndpointID)
}

// APIEndpoint returns the regional service address.
func (t Target) APIEndpoint() string {
	return fmt.Sprintf("%s-aiplatform.googleapis.com:443", t.Location)
}

// Client calls Vertex AI PredictionService.Predict.
type Client struct {
	client   *aiplatform.PredictionClient
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
}

// Dial creates a prediction client for target. Extra options are appended
// after the regional endpoint, so callers may override the transport.
func Dial(ctx context.Context, target Target, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if target.EndpointID == "" {
		return nil, logging.NewOperationError("vertexclient.dial", "", errors.New("endpoint id is required"))
	}

	clientOpts := append([]option.ClientOption{option.WithEndpoint(target.APIEndpoint())}, opts...)
	pc, err := aiplatform.NewPredictionClient(ctx, clientOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("vertexclient.dial", "", err)
		logger.Error("failed to create prediction client", zap.Error(wrapped), zap.String("api_endpoint", target.APIEndpoint()))
		return nil, wrapped
	}

	return &Client{
		client:   pc,
		endpoint: target.EndpointName(),
		timeout:  target.RequestTimeout,
		logger:   logger.Named("vertexclient"),
	}, nil
}

// Endpoint returns the resource name predictions are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Predict sends instances to the endpoint and returns each prediction as JSON.
func (c *Client) Predict(ctx context.Context, requestID string, instances []predictor.Instance, params predictor.Parameters) (*predictor.Result, error) {
	req, err := buildRequest(c.endpoint, instances, params)
	if err != nil {
		return nil, logging.NewOperationError("vertexclient.build_request", requestID, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Predict(ctx, req)
	if err != nil {
		wrapped := logging.NewOperationError("vertexclient.predict", requestID, err)
		logging.WithOperation(c.logger, "vertexclient.predict", requestID).
			Error("prediction call failed", zap.Error(wrapped), zap.String("endpoint", c.endpoint))
		return nil, wrapped
	}

	predictions := make([]json.RawMessage, 0, len(resp.GetPredictions()))
	for _, p := range resp.GetPredictions() {
		raw, err := protojson.Marshal(p)
		if err != nil {
			return nil, logging.NewOperationError("vertexclient.decode_prediction", requestID, err)
		}
		predictions = append(predictions, raw)
	}

	return &predictor.Result{
		Predictions:     predictions,
		DeployedModelID: resp.GetDeployedModelId(),
	}, nil
}

func buildRequest(endpoint string, instances []predictor.Instance, params predictor.Parameters) (*aiplatformpb.PredictRequest, error) {
	values := make([]*structpb.Value, 0, len(instances))
	for _, inst := range instances {
		v, err := structpb.NewValue(map[string]interface{}{"content": inst.Content})
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	parameters, err := structpb.NewValue(map[string]interface{}{
		"confidenceThreshold": params.ConfidenceThreshold,
		"maxPredictions":      params.MaxPredictions,
	})
	if err != nil {
		return nil, err
	}

	return &aiplatformpb.PredictRequest{
		Endpoint:   endpoint,
		Instances:  values,
		Parameters: parameters,
	}, nil
}
