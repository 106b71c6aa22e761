package logging

import (
	"errors"
	"fmt"
)

// OperationError tags an error with the relay step that produced it and the
// request it belonged to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s [request_id=%s]: %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err; a nil err stays nil so call sites can wrap unconditionally.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// OperationOf returns the innermost operation recorded in err's chain, or "".
func OperationOf(err error) string {
	var (
		op  string
		cur = err
	)
	for cur != nil {
		var opErr *OperationError
		if !errors.As(cur, &opErr) {
			break
		}
		op = opErr.Operation
		cur = opErr.Err
	}
	return op
}
