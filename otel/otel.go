// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package otel sets up OpenTelemetry export for the publisher.
package otel

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/absmach/fluxpub/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"
)

// Resource attribute keys describing the publisher.
const (
	ProducerCountKey  = attribute.Key("fluxpub.producer.count")
	ProducerTypesKey  = attribute.Key("fluxpub.producer.types")
	MaxAttemptsKey    = attribute.Key("fluxpub.dispatcher.max_attempts")
	RetryDelayKey     = attribute.Key("fluxpub.dispatcher.retry_delay_ms")
	BreakerEnabledKey = attribute.Key("fluxpub.breaker.enabled")
)

// latencyBuckets covers publish confirms and backoff waits, in milliseconds.
var latencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// InitProvider initializes OpenTelemetry SDK with OTLP exporters.
// Returns a shutdown function that should be called on application exit.
func InitProvider(cfg *config.Config, instanceID string) (func(context.Context) error, error) {
	ctx := context.Background()
	tc := cfg.Telemetry

	res, err := newResource(ctx, cfg, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var creds credentials.TransportCredentials
	if (tc.TracesEnabled || tc.MetricsEnabled) && !tc.Insecure {
		if creds, err = transportCredentials(tc.CAFile); err != nil {
			return nil, err
		}
	}

	var shutdownFuncs []func(context.Context) error

	if tc.TracesEnabled {
		traceShutdown, err := initTracerProvider(ctx, tc, creds, res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, traceShutdown)
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	if tc.MetricsEnabled {
		meterShutdown, err := initMeterProvider(ctx, tc, creds, res)
		if err != nil {
			for _, fn := range shutdownFuncs {
				_ = fn(ctx)
			}
			return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, meterShutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
		return nil
	}, nil
}

// newResource describes this publisher: its service identity plus the shape
// of the producer pool and failover policy it runs with.
func newResource(ctx context.Context, cfg *config.Config, instanceID string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.Telemetry.ServiceName),
		semconv.ServiceVersionKey.String(cfg.Telemetry.ServiceVersion),
		semconv.ServiceInstanceIDKey.String(instanceID),
	}
	attrs = append(attrs, publisherAttributes(cfg)...)
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func publisherAttributes(cfg *config.Config) []attribute.KeyValue {
	count := 0
	seen := make(map[string]struct{})
	for _, p := range cfg.Producers {
		n := p.Instances
		if n < 1 {
			n = 1
		}
		count += n
		seen[p.Type] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)

	return []attribute.KeyValue{
		ProducerCountKey.Int(count),
		ProducerTypesKey.StringSlice(types),
		MaxAttemptsKey.Int(cfg.Dispatcher.MaxAttempts),
		RetryDelayKey.Int64(cfg.Dispatcher.RetryDelay.Milliseconds()),
		BreakerEnabledKey.Bool(cfg.Breaker.Enabled),
	}
}

// transportCredentials returns TLS credentials for the collector, trusting
// caFile when set and the system roots otherwise.
func transportCredentials(caFile string) (credentials.TransportCredentials, error) {
	if caFile == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read collector CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return credentials.NewClientTLSFromCert(pool, ""), nil
}

// initTracerProvider creates and registers a TracerProvider with OTLP exporter.
func initTracerProvider(ctx context.Context, cfg config.TelemetryConfig, creds credentials.TransportCredentials, res *resource.Resource) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(30 * time.Second),
	}
	if creds != nil {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	} else {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.TraceSampleRate))),
		trace.WithBatcher(exporter,
			trace.WithMaxExportBatchSize(512),
			trace.WithBatchTimeout(5*time.Second),
		),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// initMeterProvider creates and registers a MeterProvider with OTLP exporter.
func initMeterProvider(ctx context.Context, cfg config.TelemetryConfig, creds credentials.TransportCredentials, res *resource.Resource) (func(context.Context) error, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithTimeout(30 * time.Second),
	}
	if creds != nil {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(creds))
	} else {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter,
			metric.WithInterval(10*time.Second),
		)),
		metric.WithView(latencyView()),
	)

	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// latencyView buckets every millisecond histogram the dispatcher records.
func latencyView() metric.View {
	return metric.NewView(
		metric.Instrument{Name: "fluxpub.*.ms", Kind: metric.InstrumentKindHistogram},
		metric.Stream{Aggregation: metric.AggregationExplicitBucketHistogram{Boundaries: latencyBuckets}},
	)
}
