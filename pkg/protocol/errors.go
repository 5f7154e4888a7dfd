package protocol

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a node failure.
type ErrorKind string

const (
	KindFailure           ErrorKind = "failure"
	KindTimeout           ErrorKind = "timeout"
	KindInvalidParameters ErrorKind = "invalid_parameters"
	KindExpression        ErrorKind = "expression"
	KindCancelled         ErrorKind = "cancelled"
	KindUnknownAction     ErrorKind = "unknown_action"
)

// ActionError is the error shape the runner records for a failed node.
type ActionError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Permanent marks err as a failure that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &ActionError{Kind: KindFailure, Retryable: false, Err: err}
}

// NewError builds an ActionError of the given kind.
func NewError(kind ErrorKind, retryable bool, err error) *ActionError {
	return &ActionError{Kind: kind, Retryable: retryable, Err: err}
}

// Classify turns any error returned from action creation or execution into
// an ActionError. Plain errors are retryable failures; an expired deadline is
// a retryable timeout and a cancelled context is a non-retryable cancellation.
func Classify(err error) *ActionError {
	if err == nil {
		return nil
	}

	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ActionError{Kind: KindTimeout, Retryable: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &ActionError{Kind: KindCancelled, Retryable: false, Err: err}
	default:
		return &ActionError{Kind: KindFailure, Retryable: true, Err: err}
	}
}

// IsRetryable reports whether a failed node may be attempted again.
func IsRetryable(err error) bool {
	classified := Classify(err)

	return classified != nil && classified.Retryable
}
