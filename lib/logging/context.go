package logging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook adds the OpenTelemetry trace and span IDs of the event's context to the log event, if present.
type TracingHook struct{}

func (h TracingHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		e.Str("trace_id", spanCtx.TraceID().String())
		e.Str("span_id", spanCtx.SpanID().String())
	}
}

// Configure sets the global log level and installs the tracing hook on the global logger.
func Configure(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Logger.Hook(TracingHook{})
}

// With returns a context carrying a logger that includes the given string field,
// so that it will be included in any log event created with log.Ctx on that context.
func With(parent context.Context, key, value string) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	logger := log.Ctx(parent).With().Str(key, value).Logger()
	return logger.WithContext(parent)
}
