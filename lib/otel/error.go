package otel

import (
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error records err on the span, marks the span as failed and returns err unchanged.
// If a message is given, it is used as status description instead of err.Error().
func Error(span trace.Span, err error, message ...string) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	description := err.Error()
	if len(message) > 0 && message[0] != "" {
		description = strings.Join(message, ",")
	}
	span.SetStatus(codes.Error, description)
	return err
}
