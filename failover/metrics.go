// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package failover

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/absmach/fluxpub/failover"

// Metrics holds OpenTelemetry instruments for the publish path.
// A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	sendsTotal     metric.Int64Counter
	attemptsTotal  metric.Int64Counter
	failoversTotal metric.Int64Counter
	publishesTotal metric.Int64Counter

	// Histograms
	sendDuration    metric.Float64Histogram
	publishDuration metric.Float64Histogram
	backoffDelay    metric.Float64Histogram
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates Metrics on the given meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	var err error

	m.sendsTotal, err = m.meter.Int64Counter(
		"fluxpub.sends.total",
		metric.WithDescription("Total Send calls by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sendsTotal counter: %w", err)
	}

	m.attemptsTotal, err = m.meter.Int64Counter(
		"fluxpub.attempts.total",
		metric.WithDescription("Total publish attempts by endpoint and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attemptsTotal counter: %w", err)
	}

	m.failoversTotal, err = m.meter.Int64Counter(
		"fluxpub.failovers.total",
		metric.WithDescription("Total Send calls that exhausted every attempt"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failoversTotal counter: %w", err)
	}

	m.publishesTotal, err = m.meter.Int64Counter(
		"fluxpub.producer.publishes.total",
		metric.WithDescription("Total producer publishes by endpoint and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishesTotal counter: %w", err)
	}

	m.sendDuration, err = m.meter.Float64Histogram(
		"fluxpub.send.duration.ms",
		metric.WithDescription("Send duration in milliseconds, backoff included"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sendDuration histogram: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"fluxpub.producer.publish.duration.ms",
		metric.WithDescription("Producer publish duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	m.backoffDelay, err = m.meter.Float64Histogram(
		"fluxpub.backoff.delay.ms",
		metric.WithDescription("Backoff delay applied before an attempt in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backoffDelay histogram: %w", err)
	}

	return m, nil
}

// RecordSend records the outcome of one Send call.
func (m *Metrics) RecordSend(ctx context.Context, d time.Duration, result string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.sendsTotal.Add(ctx, 1, attrs)
	m.sendDuration.Record(ctx, toMillis(d), attrs)
	if result == resultExhausted {
		m.failoversTotal.Add(ctx, 1)
	}
}

// RecordAttempt records one dispatch attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, endpoint string, delay time.Duration, err error) {
	if m == nil {
		return
	}
	m.attemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", resultOf(err)),
	))
	if delay > 0 {
		m.backoffDelay.Record(ctx, toMillis(delay), metric.WithAttributes(
			attribute.String("endpoint", endpoint),
		))
	}
}

// RecordPublish records one producer publish, as seen by middleware.
func (m *Metrics) RecordPublish(ctx context.Context, endpoint string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", resultOf(err)),
	)
	m.publishesTotal.Add(ctx, 1, attrs)
	m.publishDuration.Record(ctx, toMillis(d), attrs)
}

const (
	resultSuccess     = "success"
	resultError       = "error"
	resultExhausted   = "exhausted"
	resultDisposed    = "disposed"
	resultNoProducers = "no_producers"
	resultCancelled   = "cancelled"
)

func resultOf(err error) string {
	if err == nil {
		return resultSuccess
	}
	return resultError
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
