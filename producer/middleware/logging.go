// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides producer decorators that observe publishes
// without changing their outcome or the producer's identity.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fluxpub/producer"
)

var _ producer.Producer = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	next   producer.Producer
}

// NewLogging creates logging middleware that wraps a producer.
func NewLogging(p producer.Producer, logger *slog.Logger) producer.Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingMiddleware{logger, p}
}

func (lm *loggingMiddleware) ID() producer.ID {
	return lm.next.ID()
}

func (lm *loggingMiddleware) Endpoint() string {
	return lm.next.Endpoint()
}

// Publish logs the outcome of the publish once its token resolves.
func (lm *loggingMiddleware) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	return observe(ctx, lm.next, msg, func(begin time.Time, err error) {
		args := []any{
			slog.String("producer_id", lm.next.ID().String()),
			slog.String("endpoint", lm.next.Endpoint()),
			slog.String("duration", time.Since(begin).String()),
		}
		if msg != nil {
			args = append(args, slog.String("topic", msg.Topic))
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Publish", args...)
			return
		}
		lm.logger.Debug("Publish", args...)
	})
}

// observe publishes through next and calls done with the start time and
// outcome when the token resolves. The returned token resolves after done.
func observe(ctx context.Context, next producer.Producer, msg *producer.Message, done func(begin time.Time, err error)) producer.Token {
	begin := time.Now()
	inner := next.Publish(ctx, msg)
	if inner == nil {
		done(begin, producer.ErrNilToken)
		return producer.CompletedToken(producer.ErrNilToken)
	}

	select {
	case <-inner.Done():
		err := inner.Error()
		done(begin, err)
		return inner
	default:
	}

	tok := producer.NewToken()
	go func() {
		err := inner.Wait(ctx)
		done(begin, err)
		tok.Complete(err)
	}()
	return tok
}
