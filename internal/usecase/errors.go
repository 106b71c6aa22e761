package usecase

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a prediction request failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDecode
	KindUpstream
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindUpstream:
		return "upstream"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// PublicMessage is the text returned to clients. Error details stay in the logs.
func (k ErrorKind) PublicMessage() string {
	switch k {
	case KindDecode:
		return "image_bytes is not valid base64"
	case KindUpstream:
		return "prediction service request failed"
	case KindParse:
		return "failed to parse prediction response"
	default:
		return "internal server error"
	}
}

// PredictionError is returned by PredictionUseCase.Predict for every failure.
type PredictionError struct {
	Kind ErrorKind
	Err  error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var predErr *PredictionError
	if errors.As(err, &predErr) {
		return predErr.Kind
	}
	return KindUnknown
}

// ErrMetricsUnavailable is returned when no audit store is configured.
var ErrMetricsUnavailable = errors.New("metrics unavailable")

var (
	errImageNotString = errors.New("image_bytes is not a string")
	errNoPredictions  = errors.New("response contains no predictions")
	errMissingName    = errors.New("prediction is missing displayNames[0]")
	errMissingScore   = errors.New("prediction is missing confidences[0]")
	errInvalidScore   = errors.New("confidences[0] is not a number")
)
