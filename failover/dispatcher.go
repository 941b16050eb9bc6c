// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package failover delivers a message through a pool of interchangeable
// producers, retrying on failure with per-producer adaptive backoff.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxpub/backoff"
	"github.com/absmach/fluxpub/producer"
	"github.com/absmach/fluxpub/selector"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/fluxpub/failover"

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock sets the clock used for backoff waits and expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer sets the tracer. The global tracer provider is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// Dispatcher sends messages through a selector's producers, failing over
// to the next producer when one fails. It is safe for concurrent use; no
// lock is held across the selection, backoff and publish of an attempt.
type Dispatcher struct {
	selector selector.Selector
	cfg      Config
	backoff  *backoff.Store

	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *Metrics
	tracer  trace.Tracer

	disposed atomic.Bool
}

// New creates a dispatcher. The dispatcher never closes the producers
// behind sel; their owner does.
func New(sel selector.Selector, cfg Config, opts ...Option) (*Dispatcher, error) {
	if sel == nil {
		return nil, ErrNilSelector
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BackoffUnit == 0 {
		cfg.BackoffUnit = DefaultBackoffUnit
	}

	d := &Dispatcher{
		selector: sel,
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.backoff = backoff.New(cfg.InactivityResetDelay,
		backoff.WithClock(d.clock),
		backoff.WithUnit(cfg.BackoffUnit))

	return d, nil
}

// Send publishes msg, trying up to MaxAttempts producers. It returns nil on
// the first success, ErrDisposed or ErrNoProducersAvailable without
// consuming attempts, a *FailoverError once every attempt has failed, or
// an error wrapping ctx.Err() if ctx ends mid-attempt.
func (d *Dispatcher) Send(ctx context.Context, msg *producer.Message) (err error) {
	if d.disposed.Load() {
		d.metrics.RecordSend(ctx, 0, resultDisposed)
		return ErrDisposed
	}
	if msg == nil {
		return producer.ErrNilMessage
	}

	ctx, span := d.tracer.Start(ctx, "failover.Send", trace.WithAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("fluxpub.max_attempts", d.cfg.MaxAttempts),
	))
	start := d.clock.Now()
	result := resultSuccess
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		d.metrics.RecordSend(ctx, d.clock.Since(start), result)
	}()

	errs := make([]error, 0, d.cfg.MaxAttempts)
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		p, err := d.next()
		if err != nil {
			result = resultNoProducers
			d.logger.Error("no producer available for publish",
				slog.String("topic", msg.Topic),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		}

		id := p.ID()
		delay := d.backoff.DelayFor(id)
		if delay > 0 {
			d.logger.Debug("backing off before publish",
				slog.String("producer_id", id.String()),
				slog.String("endpoint", p.Endpoint()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			if err := d.wait(ctx, delay); err != nil {
				result = resultCancelled
				return fmt.Errorf("send interrupted during backoff after %d failed attempts: %w", len(errs), err)
			}
		}

		perr, done := d.publish(ctx, p, msg, attempt)
		if !done {
			result = resultCancelled
			return fmt.Errorf("send interrupted awaiting publish after %d failed attempts: %w", len(errs), ctx.Err())
		}
		d.metrics.RecordAttempt(ctx, p.Endpoint(), delay, perr)

		if perr == nil {
			d.backoff.Decay(id)
			span.SetAttributes(
				attribute.Int("fluxpub.attempts", attempt),
				attribute.String("fluxpub.endpoint", p.Endpoint()))
			if attempt > 1 {
				d.logger.Info("publish succeeded after failover",
					slog.String("producer_id", id.String()),
					slog.String("endpoint", p.Endpoint()),
					slog.Int("attempt", attempt))
			}
			return nil
		}

		next := d.backoff.Escalate(id, d.cfg.RetryDelay)
		errs = append(errs, &producer.PublishError{
			Producer: id,
			Endpoint: p.Endpoint(),
			Attempt:  attempt,
			Delay:    delay,
			Err:      perr,
		})

		d.logger.Warn("publish attempt failed",
			slog.String("producer_id", id.String()),
			slog.String("endpoint", p.Endpoint()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.cfg.MaxAttempts),
			slog.Duration("next_delay", next),
			slog.String("error", perr.Error()))
	}

	result = resultExhausted
	ferr := &FailoverError{AttemptsMade: d.cfg.MaxAttempts, Errors: errs}
	d.logger.Error("publish failed on every attempt",
		slog.String("topic", msg.Topic),
		slog.Int("attempts", ferr.AttemptsMade),
		slog.String("error", ferr.Error()))

	return ferr
}

// Dispose stops the dispatcher from accepting new sends. Sends already in
// flight run to completion. Calling Dispose more than once has no effect.
func (d *Dispatcher) Dispose() {
	if d.disposed.CompareAndSwap(false, true) {
		d.logger.Info("failover dispatcher disposed",
			slog.Int("backoff_entries", d.backoff.Len()))
	}
}

// Disposed reports whether Dispose has been called.
func (d *Dispatcher) Disposed() bool {
	return d.disposed.Load()
}

// Snapshot returns the current backoff delay of every producer with live
// backoff state. It has no side effects beyond discarding expired entries.
func (d *Dispatcher) Snapshot() (map[producer.ID]time.Duration, error) {
	if d.disposed.Load() {
		return nil, ErrDisposed
	}
	return d.backoff.Snapshot(), nil
}

// Config returns the dispatcher configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

func (d *Dispatcher) next() (producer.Producer, error) {
	p, err := d.selector.Next()
	switch {
	case err == nil && p != nil:
		return p, nil
	case err == nil, errors.Is(err, ErrNoProducersAvailable):
		return nil, ErrNoProducersAvailable
	default:
		return nil, fmt.Errorf("%w: %w", ErrNoProducersAvailable, err)
	}
}

// wait suspends the calling goroutine for delay, or until ctx ends.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	timer := d.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish runs one attempt against p and returns its outcome. done is
// false when ctx ended before the outcome was known.
func (d *Dispatcher) publish(ctx context.Context, p producer.Producer, msg *producer.Message, attempt int) (outcome error, done bool) {
	ctx, span := d.tracer.Start(ctx, "failover.attempt", trace.WithAttributes(
		attribute.Int("fluxpub.attempt", attempt),
		attribute.String("fluxpub.producer_id", p.ID().String()),
		attribute.String("fluxpub.endpoint", p.Endpoint()),
	))
	defer span.End()

	tok := p.Publish(ctx, msg)
	if tok == nil {
		span.SetStatus(codes.Error, ErrNilToken.Error())
		return ErrNilToken, true
	}

	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
			return err, true
		}
		return nil, true
	case <-ctx.Done():
		span.SetStatus(codes.Error, "interrupted")
		return nil, false
	}
}
