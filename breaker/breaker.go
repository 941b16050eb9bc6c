// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker guards a producer with a circuit breaker so a broker
// that keeps failing is skipped quickly instead of timing out each time.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/fluxpub/producer"
	"github.com/sony/gobreaker"
)

// Default settings.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// ErrOpen is returned while the breaker rejects publishes.
var ErrOpen = gobreaker.ErrOpenState

// Config holds circuit breaker settings.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before letting a
	// probe publish through.
	ResetTimeout time.Duration
}

// Producer routes publishes of the wrapped producer through a breaker.
type Producer struct {
	next   producer.Producer
	cb     *gobreaker.TwoStepCircuitBreaker
	logger *slog.Logger
}

var _ producer.Producer = (*Producer)(nil)

// Wrap creates a breaker-guarded producer with the identity of p.
// Zero config values fall back to the defaults.
func Wrap(p producer.Producer, cfg Config, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}

	threshold := uint32(cfg.FailureThreshold)
	bp := &Producer{next: p, logger: logger}
	bp.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        p.Endpoint(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("producer circuit breaker state changed",
				slog.String("producer_id", p.ID().String()),
				slog.String("endpoint", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return bp
}

// ID implements producer.Producer.
func (p *Producer) ID() producer.ID {
	return p.next.ID()
}

// Endpoint implements producer.Producer.
func (p *Producer) Endpoint() string {
	return p.next.Endpoint()
}

// State returns the current breaker state.
func (p *Producer) State() gobreaker.State {
	return p.cb.State()
}

// Counts returns the breaker's counters for the current generation.
func (p *Producer) Counts() gobreaker.Counts {
	return p.cb.Counts()
}

// Publish fails fast with ErrOpen while the breaker is open, and otherwise
// delegates and reports the outcome to the breaker once the token resolves.
// Context cancellation is not counted against the producer.
func (p *Producer) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	done, err := p.cb.Allow()
	if err != nil {
		return producer.CompletedToken(err)
	}

	inner := p.next.Publish(ctx, msg)
	if inner == nil {
		done(false)
		return producer.CompletedToken(producer.ErrNilToken)
	}

	tok := producer.NewToken()
	go func() {
		err := inner.Wait(ctx)
		done(successful(err))
		tok.Complete(err)
	}()
	return tok
}

func successful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
