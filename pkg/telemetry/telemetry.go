package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
)

type Options struct {
	Logger      *zap.Logger
	ServiceName string

	// OtlpEndpoint enables export of traces and metrics over otlp/grpc.
	OtlpEndpoint    string
	DisableTraces   bool
	DisableMetrics  bool
	TraceEverything bool

	// Prometheus registers a reader which serves metrics from the default
	// prometheus registry.
	Prometheus bool
}

// Providers holds what Init installed globally.  Shutdown flushes anything
// pending to the collector.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func Init(ctx context.Context, opts Options) (*Providers, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
		),
	)
	if err != nil {
		if res == nil {
			return nil, err
		}

		opts.Logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	var readers []sdkmetric.Option
	if opts.Prometheus {
		promExp, err := prometheus.New()
		if err != nil {
			return nil, err
		}

		readers = append(readers, sdkmetric.WithReader(promExp))
	}

	if !opts.DisableMetrics && opts.OtlpEndpoint != "" {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(opts.OtlpEndpoint))
		if err != nil {
			return nil, err
		}

		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	}

	providers := &Providers{}

	if len(readers) > 0 {
		providers.MeterProvider = sdkmetric.NewMeterProvider(
			append([]sdkmetric.Option{sdkmetric.WithResource(res)}, readers...)...)
		otel.SetMeterProvider(providers.MeterProvider)
	}

	if !opts.DisableTraces && opts.OtlpEndpoint != "" {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(opts.OtlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, err
		}

		baseTracing := sdktrace.NeverSample()
		if opts.TraceEverything {
			baseTracing = sdktrace.AlwaysSample()
		}

		providers.TracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(baseTracing)),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
		)
		otel.SetTracerProvider(providers.TracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
	}

	return providers, nil
}
