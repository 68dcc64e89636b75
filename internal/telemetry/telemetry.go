// Package telemetry connects deskbridge's run spans and sync counters to
// OpenTelemetry. Nothing leaves the process unless a Config enables it;
// otherwise no-op providers are installed and instruments cost nothing.
//
// Environment (see FromEnv):
//
//	DESKBRIDGE_OTEL_ENABLED=true     turn telemetry on
//	DESKBRIDGE_OTEL_STDOUT=true      print spans and metrics to stdout
//	OTEL_EXPORTER_OTLP_ENDPOINT=...  push metrics over OTLP/HTTP
package telemetry

import (
	"context"
	"errors"
	"fmt"
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

const (
	serviceName = "deskbridge"
	rootScope   = "github.com/zxperience/deskbridge"

	// DefaultInterval is how often metrics are pushed to an exporter.
	DefaultInterval = 30 * time.Second
)

// Config selects the exporters deskbridge feeds.
type Config struct {
	Enabled bool
	// Stdout pretty-prints spans and metrics, for local runs.
	Stdout bool
	// Endpoint is an OTLP/HTTP collector, as host:port or an http(s) URL.
	// Plain host:port is dialed without TLS.
	Endpoint string
	Interval time.Duration
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return Config{
		Enabled:  os.Getenv("DESKBRIDGE_OTEL_ENABLED") == "true",
		Stdout:   os.Getenv("DESKBRIDGE_OTEL_STDOUT") == "true",
		Endpoint: endpoint,
	}
}

// ShutdownFunc flushes pending spans and metrics.
type ShutdownFunc func(context.Context) error

// Init installs the global providers for cfg and returns their flush
// function. Spans are only recorded when they have somewhere to go, so an
// endpoint without Stdout yields metrics and a no-op tracer.
func Init(ctx context.Context, cfg Config, version string) (ShutdownFunc, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var flush []ShutdownFunc

	if cfg.Stdout {
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(spans))
		otel.SetTracerProvider(tp)
		flush = append(flush, tp.Shutdown)
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	readers, err := metricReaders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)
	otel.SetMeterProvider(mp)
	flush = append(flush, mp.Shutdown)

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range flush {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func metricReaders(ctx context.Context, cfg Config) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if cfg.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Interval)))
	}
	if cfg.Endpoint != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpOptions(cfg.Endpoint)...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter %s: %w", cfg.Endpoint, err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Interval)))
	}
	return readers, nil
}

func otlpOptions(endpoint string) []otlpmetrichttp.Option {
	if host, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	}
	host := strings.TrimPrefix(endpoint, "http://")
	return []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host), otlpmetrichttp.WithInsecure()}
}

// Tracer returns the tracer for a package scope.
func Tracer(scope string) trace.Tracer {
	if scope == "" {
		scope = rootScope
	}
	return otel.Tracer(scope)
}

// Meter returns the meter for a package scope.
func Meter(scope string) metric.Meter {
	if scope == "" {
		scope = rootScope
	}
	return otel.Meter(scope)
}
