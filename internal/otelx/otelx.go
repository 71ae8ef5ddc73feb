// Package otelx installs the process-wide tracer provider and propagator.
// With tracing off an in-process SDK provider is still installed so
// otelhttp spans and trace-id log enrichment behave the same either way;
// nothing is exported.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

const dialTimeout = 3 * time.Second

type Options struct {
	Enabled bool
	// Endpoint is the collector's gRPC host:port.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	ServiceName string
	// Environment is the NODE_ENV value, exported as deployment.environment.
	Environment string
	Version     string
}

func exporterOptions(o Options) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent(o))),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

// userAgent identifies the exporter connection to the collector.
func userAgent(o Options) string {
	name := o.ServiceName
	if name == "" {
		name = "h5p-web"
	}
	if o.Version == "" {
		return name
	}
	return name + "/" + o.Version
}

// Shutdown flushes pending spans and stops the exporter.
type Shutdown func(context.Context) error

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

func Init(ctx context.Context, o Options) (Shutdown, error) {
	setPropagator()
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	L := log.FromContext(ctx)

	// the exporter dial blocks without a deadline
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, exporterOptions(o)...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter %s", o.Endpoint)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(o.ServiceName),
		semconv.ServiceVersionKey.String(o.Version),
	}
	if o.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(o.Environment))
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		// partial resources are still usable
		L.Warn(ctx, "otel resource detection incomplete", "err", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.SampleRatio))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	L.Info(ctx, "tracing enabled", "endpoint", o.Endpoint, "sample_ratio", o.SampleRatio)
	return tp.Shutdown, nil
}
