// Package telemetry wires OpenTelemetry for sync runs and the record store.
//
// Telemetry is off unless telemetry.enabled is set in config (or
// BDSYNC_TELEMETRY_ENABLED=true). When off, Tracer and Meter hand out no-op
// instruments and WrapStore returns the store untouched.
//
// Spans always go to the stdout trace exporter when enabled. Metrics are
// exported to stdout with telemetry.stdout and over OTLP/HTTP when
// telemetry.otlp_endpoint (or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT /
// OTEL_EXPORTER_OTLP_ENDPOINT) is set.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/bdsync"

// Options controls Init.
type Options struct {
	Enabled     bool
	ServiceName string
	Version     string

	// Stdout exports metrics as well as spans.
	Stdout         bool
	MetricInterval time.Duration

	// OTLPEndpoint receives metrics over OTLP/HTTP. Either host:port
	// (plain HTTP) or a full URL. Empty falls back to the standard OTEL_*
	// environment variables.
	OTLPEndpoint string

	// Output receives exported spans and metrics. Defaults to os.Stderr so
	// it never mixes with --json output.
	Output io.Writer
}

var (
	enabled     bool
	shutdownFns []func(context.Context) error
)

// Enabled reports whether Init installed real providers.
func Enabled() bool { return enabled }

// Init installs the global tracer and meter providers. With Enabled unset
// it installs no-op providers.
func Init(ctx context.Context, opts Options) error {
	enabled = false
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "bdsync"
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = 15 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
		),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.Output))
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)

	mp, err := buildMetricProvider(ctx, res, opts)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, tp.Shutdown, mp.Shutdown)
	enabled = true
	return nil
}

func buildMetricProvider(ctx context.Context, res *resource.Resource, opts Options) (*sdkmetric.MeterProvider, error) {
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.Output))
		if err != nil {
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		mopts = append(mopts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.MetricInterval)),
		))
	}
	if endpoint := MetricEndpoint(opts.OTLPEndpoint); endpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		mopts = append(mopts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.MetricInterval)),
		))
	}
	return sdkmetric.NewMeterProvider(mopts...), nil
}

// MetricEndpoint picks the OTLP metrics endpoint: the configured value, then
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT, then OTEL_EXPORTER_OTLP_ENDPOINT.
func MetricEndpoint(configured string) string {
	for _, v := range []string{
		configured,
		os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func buildOTLPMetricExporter(ctx context.Context, endpoint string) (sdkmetric.Exporter, error) {
	if strings.Contains(endpoint, "://") {
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	}
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
}

// Tracer returns a tracer for the named scope (or the module scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter for the named scope (or the module scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics. Safe to call more than once.
func Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range shutdownFns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	shutdownFns = nil
	enabled = false
	return errors.Join(errs...)
}
