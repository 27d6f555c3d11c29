// Package telemetry wires the observability events required by spec §4.5
// step 3d ("Emit an observability event") and §7 (transient errors are
// "surfaced as observability event") onto an OpenTelemetry tracer. Spans are
// exported to the process log rather than an OTLP collector: the core has no
// external collector in scope, so the teacher's otlptracehttp exporter is
// replaced with a zap-backed in-process one (see DESIGN.md).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
)

const tracerName = "github.com/jpatrickfarrell/jat-sub014/orchestrator"

// Telemetry bundles a tracer used to record rule triggers, state
// transitions, and error events as spans.
type Telemetry struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// New builds a Telemetry instance backed by a zap span exporter.
func New(log *logging.Logger) *Telemetry {
	exporter := &zapSpanExporter{log: log}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return &Telemetry{tracer: tp.Tracer(tracerName), tp: tp}
}

// Shutdown flushes and stops the tracer provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tp.Shutdown(ctx)
}

// RuleTriggered records a rule-engine trigger (spec §4.5 step 3d).
func (t *Telemetry) RuleTriggered(ctx context.Context, ruleID, sessionID string, actionCount int) {
	_, span := t.tracer.Start(ctx, "rule.triggered", trace.WithAttributes(
		attribute.String("rule.id", ruleID),
		attribute.String("session.id", sessionID),
		attribute.Int("action.count", actionCount),
	))
	span.End()
}

// ActionFailed records a single action failure that did not abort the rule
// (spec §4.5 Failure semantics).
func (t *Telemetry) ActionFailed(ctx context.Context, ruleID, sessionID, actionKind string, err error) {
	_, span := t.tracer.Start(ctx, "rule.action.failed", trace.WithAttributes(
		attribute.String("rule.id", ruleID),
		attribute.String("session.id", sessionID),
		attribute.String("action.kind", actionKind),
	))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StateTransition records a classifier or signal-driven lifecycle change.
func (t *Telemetry) StateTransition(ctx context.Context, sessionID, from, to, cause string) {
	_, span := t.tracer.Start(ctx, "session.state_transition", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("state.from", from),
		attribute.String("state.to", to),
		attribute.String("cause", cause),
	))
	span.End()
}

// TransientError records a retried-then-surfaced transient error (spec §7).
func (t *Telemetry) TransientError(ctx context.Context, component string, err error) {
	_, span := t.tracer.Start(ctx, "transient.error", trace.WithAttributes(
		attribute.String("component", component),
	))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
