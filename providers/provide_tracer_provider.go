package providers

import (
	"context"

	"github.com/gbdevw/gowschat/configuration"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Name used to identify the chat client in traces.
const serviceName = "gowschat"

// # Description
//
// Provide the tracer provider. When tracing is enabled, spans are exported to an OTLP HTTP
// endpoint and the provider is flushed when the application stops. Otherwise the global tracer
// provider, which does nothing by default, is returned.
func ProvideTracerProvider(lc fx.Lifecycle, config configuration.Configuration) (trace.TracerProvider, error) {
	if !config.TracingEnabled {
		return otel.GetTracerProvider(), nil
	}
	exp, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(config.TracingEndpoint),
		otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

// Provide the global meter provider.
func ProvideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
