// Package tracing sets up the OpenTelemetry tracer used by the gateway and
// provides the TrackOperation helper that wraps an async operation in a
// span.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/corvid-labs/model-gateway"

// Init sets up a tracer provider writing spans to w (stdout exporter;
// swap in OTLP for production). Returns a shutdown function to call on exit.
func Init(serviceName string, w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the gateway tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TrackOperation wraps fn in a span named name, annotated with the provider
// and model it targets. The function's result is returned unchanged.
func TrackOperation[T any](ctx context.Context, name, provider, model string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("gateway.provider", provider),
		attribute.String("gateway.model", model),
	))
	defer span.End()

	result, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}
