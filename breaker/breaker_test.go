// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/fluxpub/producer"
	"github.com/absmach/fluxpub/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func publish(p producer.Producer) error {
	ctx := context.Background()
	return p.Publish(ctx, producer.NewMessage("orders", []byte("x"))).Wait(ctx)
}

func TestWrapKeepsIdentity(t *testing.T) {
	inner := testutil.NewSucceeding("amqp://a:5672")
	p := Wrap(inner, Config{}, testLogger)

	assert.Equal(t, inner.ID(), p.ID())
	assert.Equal(t, inner.Endpoint(), p.Endpoint())
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	inner := testutil.NewFailing("amqp://a:5672")
	p := Wrap(inner, Config{FailureThreshold: 3, ResetTimeout: time.Minute}, testLogger)

	for i := 0; i < 3; i++ {
		err := publish(p)
		require.ErrorIs(t, err, testutil.ErrPublishFailed)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := publish(p)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 3, inner.Calls(), "open breaker must not reach the producer")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	inner := testutil.NewScripted("amqp://a:5672", testutil.ErrPublishFailed, nil)
	p := Wrap(inner, Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond}, testLogger)

	require.Error(t, publish(p))
	assert.Equal(t, gobreaker.StateOpen, p.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, p.State())

	require.NoError(t, publish(p))
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	inner := testutil.NewScripted("amqp://a:5672",
		testutil.ErrPublishFailed, testutil.ErrPublishFailed, nil, testutil.ErrPublishFailed)
	p := Wrap(inner, Config{FailureThreshold: 3, ResetTimeout: time.Minute}, testLogger)

	for i := 0; i < 4; i++ {
		_ = publish(p)
	}
	assert.Equal(t, gobreaker.StateClosed, p.State())
	assert.Equal(t, uint32(1), p.Counts().ConsecutiveFailures)
}

func TestCancellationNotCounted(t *testing.T) {
	inner := testutil.NewSucceeding("amqp://a:5672").WithLatency(time.Second)
	p := Wrap(inner, Config{FailureThreshold: 1, ResetTimeout: time.Minute}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	tok := p.Publish(ctx, producer.NewMessage("orders", nil))
	cancel()
	<-tok.Done()

	assert.ErrorIs(t, tok.Error(), context.Canceled)
	assert.Eventually(t, func() bool {
		return p.Counts().TotalSuccesses == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, p.State())
}
