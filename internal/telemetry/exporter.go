package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
)

// zapSpanExporter implements sdktrace.SpanExporter by logging each finished
// span as a structured log line. It exists because this repo has no OTLP
// collector in scope (see DESIGN.md); it keeps the spans useful in
// development and in tests that assert on log output.
type zapSpanExporter struct {
	log *logging.Logger
}

func (e *zapSpanExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := make([]zap.Field, 0, len(s.Attributes())+2)
		fields = append(fields, zap.String("span", s.Name()))
		if s.Status().Code.String() == "Error" {
			fields = append(fields, zap.String("status", "error"))
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		e.log.Debug("span", fields...)
	}
	return nil
}

func (e *zapSpanExporter) Shutdown(ctx context.Context) error { return nil }
