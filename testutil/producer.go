// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides scripted producers for tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxpub/producer"
)

// ErrPublishFailed is the default failure of scripted producers.
var ErrPublishFailed = errors.New("scripted publish failure")

// Producer is a scripted producer. Each Publish consumes the next outcome;
// once the script is exhausted the last outcome repeats.
type Producer struct {
	id       producer.ID
	endpoint string
	latency  time.Duration

	mu       sync.Mutex
	outcomes []error
	received []*producer.Message

	calls atomic.Int64
}

var _ producer.Producer = (*Producer)(nil)

// NewScripted creates a producer that resolves publishes with outcomes in
// order. A nil outcome is a success.
func NewScripted(endpoint string, outcomes ...error) *Producer {
	if len(outcomes) == 0 {
		outcomes = []error{nil}
	}
	return &Producer{
		id:       producer.NewID(),
		endpoint: endpoint,
		outcomes: outcomes,
	}
}

// NewSucceeding creates a producer whose publishes always succeed.
func NewSucceeding(endpoint string) *Producer {
	return NewScripted(endpoint, nil)
}

// NewFailing creates a producer whose publishes always fail with an error
// naming the endpoint and wrapping ErrPublishFailed.
func NewFailing(endpoint string) *Producer {
	return NewScripted(endpoint, fmt.Errorf("%s: %w", endpoint, ErrPublishFailed))
}

// NewFailingPool creates n always-failing producers.
func NewFailingPool(n int) []producer.Producer {
	ps := make([]producer.Producer, n)
	for i := range ps {
		ps[i] = NewFailing(fmt.Sprintf("amqp://broker-%d:5672", i))
	}
	return ps
}

// WithLatency makes every publish resolve after d.
func (p *Producer) WithLatency(d time.Duration) *Producer {
	p.latency = d
	return p
}

// ID implements producer.Producer.
func (p *Producer) ID() producer.ID {
	return p.id
}

// Endpoint implements producer.Producer.
func (p *Producer) Endpoint() string {
	return p.endpoint
}

// Publish implements producer.Producer.
func (p *Producer) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	n := p.calls.Add(1)

	p.mu.Lock()
	idx := int(n - 1)
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	outcome := p.outcomes[idx]
	p.received = append(p.received, msg)
	p.mu.Unlock()

	if p.latency <= 0 {
		return producer.CompletedToken(outcome)
	}

	tok := producer.NewToken()
	go func() {
		select {
		case <-time.After(p.latency):
			tok.Complete(outcome)
		case <-ctx.Done():
			tok.Complete(ctx.Err())
		}
	}()
	return tok
}

// Calls returns the number of Publish calls.
func (p *Producer) Calls() int {
	return int(p.calls.Load())
}

// Received returns the messages passed to Publish, in call order.
func (p *Producer) Received() []*producer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*producer.Message, len(p.received))
	copy(out, p.received)
	return out
}
