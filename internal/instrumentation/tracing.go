package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used for all sitekit spans.
const TracerName = "github.com/teemow/sitekit"

// Span attribute keys.
const (
	SpanAttrModule    = "sitekit.module"
	SpanAttrOperation = "sitekit.operation"
	SpanAttrDatapoint = "sitekit.datapoint"
	SpanAttrCascade   = "sitekit.cascade"
	SpanAttrTool      = "mcp.tool"
)

// StartSpan starts a new span with the given name and attributes.
// The caller ends the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartAuthSpan starts a span for an authentication manager operation.
func StartAuthSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, "auth."+operation, attribute.String(SpanAttrOperation, operation))
}

// StartModuleSpan starts a span for a registry operation on one module.
func StartModuleSpan(ctx context.Context, operation, slug string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	all = append(all,
		attribute.String(SpanAttrOperation, operation),
		attribute.String(SpanAttrModule, slug),
	)
	all = append(all, attrs...)
	return StartSpan(ctx, "modules."+operation, all...)
}

// StartGoogleAPISpan starts a client span for a module data request.
func StartGoogleAPISpan(ctx context.Context, slug, datapoint string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "google."+slug+"."+datapoint,
		trace.WithAttributes(
			attribute.String(SpanAttrModule, slug),
			attribute.String(SpanAttrDatapoint, datapoint),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartToolSpan starts a server span for an MCP tool invocation.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "tool."+tool,
		trace.WithAttributes(attribute.String(SpanAttrTool, tool)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SetSpanError records err on the span and marks it failed. nil is ignored.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		SetSpanError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	span.End()
}

// GetTraceID returns the trace ID from the current span in context,
// or an empty string when there is none.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
