package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/dennisdiepolder/monti/livestats"

// InitTracer installs a tracer provider exporting to stdout.
// The returned function flushes and shuts the provider down.
func InitTracer(serviceName string, logger zerolog.Logger) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info().Str("service", serviceName).Msg("OpenTelemetry initialized")

	return tp.Shutdown, nil
}

// Tracer returns the tracer used for fetch spans. Without InitTracer it is
// the global no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
