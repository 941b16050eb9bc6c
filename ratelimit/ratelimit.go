// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles the publish rate of a single producer.
package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/fluxpub/producer"
	"golang.org/x/time/rate"
)

// ErrInvalidRate is returned for a non-positive rate.
var ErrInvalidRate = errors.New("rate limit must be positive")

// Producer delays publishes so the wrapped producer sees at most r
// messages per second, with bursts of up to burst messages.
type Producer struct {
	next    producer.Producer
	limiter *rate.Limiter
}

var _ producer.Producer = (*Producer)(nil)

// Wrap creates a rate limited producer. Burst values below 1 are raised
// to 1. The returned producer keeps the identity of p.
func Wrap(p producer.Producer, r float64, burst int) (*Producer, error) {
	if r <= 0 {
		return nil, ErrInvalidRate
	}
	if burst < 1 {
		burst = 1
	}
	return &Producer{
		next:    p,
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}, nil
}

// ID implements producer.Producer.
func (p *Producer) ID() producer.ID {
	return p.next.ID()
}

// Endpoint implements producer.Producer.
func (p *Producer) Endpoint() string {
	return p.next.Endpoint()
}

// Allow reports whether a publish could proceed right now without
// waiting, consuming a token if so.
func (p *Producer) Allow() bool {
	return p.limiter.Allow()
}

// Publish waits for the limiter and then delegates. If ctx ends first the
// token fails with an error wrapping ctx.Err().
func (p *Producer) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	if p.limiter.Allow() {
		return p.next.Publish(ctx, msg)
	}

	tok := producer.NewToken()
	go func() {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			tok.Complete(fmt.Errorf("rate limit wait: %w", err))
			return
		}
		inner := p.next.Publish(ctx, msg)
		if inner == nil {
			tok.Complete(producer.ErrNilToken)
			return
		}
		tok.Complete(inner.Wait(ctx))
	}()
	return tok
}
