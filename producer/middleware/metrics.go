// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"time"

	"github.com/absmach/fluxpub/failover"
	"github.com/absmach/fluxpub/producer"
)

var _ producer.Producer = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	metrics *failover.Metrics
	next    producer.Producer
}

// NewMetrics creates metrics middleware that wraps a producer. A nil
// metrics value records nothing.
func NewMetrics(p producer.Producer, m *failover.Metrics) producer.Producer {
	return &metricsMiddleware{m, p}
}

func (mm *metricsMiddleware) ID() producer.ID {
	return mm.next.ID()
}

func (mm *metricsMiddleware) Endpoint() string {
	return mm.next.Endpoint()
}

// Publish records publish count and latency once the token resolves.
func (mm *metricsMiddleware) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	return observe(ctx, mm.next, msg, func(begin time.Time, err error) {
		mm.metrics.RecordPublish(context.WithoutCancel(ctx), mm.next.Endpoint(), time.Since(begin), err)
	})
}
