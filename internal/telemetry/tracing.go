// Package telemetry configures OpenTelemetry tracing for the dispatch
// gateway and provides span helpers: a top-level span for a Dispatch
// call and child spans for rule evaluation and provider execution, with
// custom span attributes under the `acteon.` prefix. The gateway and
// executor do not start these spans themselves.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "acteon.dev/gateway"

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider configures the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (the global no-op
// provider is left in place). Returns a shutdown function callers must
// invoke on exit.
func InitTraceProvider(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("acteon-gateway"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// ContextFromTraceMap extracts a W3C traceparent/tracestate carried on
// Action.TraceContext into ctx, so the dispatch span becomes a child of
// the caller's span when present.
func ContextFromTraceMap(ctx context.Context, m map[string]string) context.Context {
	if len(m) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m))
}

// InjectTraceMap writes the current span context back into a map, for
// propagating into chain sub-actions or provider calls that need it.
func InjectTraceMap(ctx context.Context) map[string]string {
	m := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, m)
	return m
}

// StartDispatchSpan starts the top-level span for one gateway.Dispatch call.
func StartDispatchSpan(ctx context.Context, actionID, namespace, tenant, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gateway.dispatch",
		trace.WithAttributes(
			attribute.String("acteon.action_id", actionID),
			attribute.String("acteon.namespace", namespace),
			attribute.String("acteon.tenant", tenant),
			attribute.String("acteon.provider", provider),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndDispatchSpan enriches the dispatch span with the final outcome.
func EndDispatchSpan(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("acteon.outcome", outcome))
	span.End()
}

// StartRuleEvalSpan creates a child span for rule evaluation.
func StartRuleEvalSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gateway.rule_eval")
}

// EndRuleEvalSpan enriches the rule-eval span with the matched rule.
func EndRuleEvalSpan(span trace.Span, ruleName string) {
	if ruleName != "" {
		span.SetAttributes(attribute.String("acteon.matched_rule", ruleName))
	}
	span.End()
}

// StartProviderCallSpan creates a child span for a single provider
// execution attempt (one per retry).
func StartProviderCallSpan(ctx context.Context, provider string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gateway.provider_call",
		trace.WithAttributes(
			attribute.String("acteon.provider", provider),
			attribute.Int("acteon.attempt", attempt),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndProviderCallSpan enriches the provider-call span with its result.
func EndProviderCallSpan(span trace.Span, success bool, retryable bool) {
	span.SetAttributes(
		attribute.Bool("acteon.success", success),
		attribute.Bool("acteon.retryable", retryable),
	)
	span.End()
}
