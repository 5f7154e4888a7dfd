package otelhelper

import (
	"context"
	"errors"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ErrorKindKey      = "nebula.error.kind"
	ErrorRetryableKey = "nebula.error.retryable"
)

// SetError marks span as failed. Node failures also carry their kind and
// whether the runner will retry them. Cancellation is recorded as an event
// and leaves the status unset.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	var actionErr *protocol.ActionError
	if errors.As(err, &actionErr) {
		attrs = append(attrs,
			attribute.String(ErrorKindKey, string(actionErr.Kind)),
			attribute.Bool(ErrorRetryableKey, actionErr.Retryable),
		)

		if actionErr.Kind == protocol.KindCancelled {
			span.AddEvent("cancelled", trace.WithAttributes(attrs...))
			return
		}
	} else if errors.Is(err, context.Canceled) {
		span.AddEvent("cancelled", trace.WithAttributes(attrs...))
		return
	}

	span.SetAttributes(attrs...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
