// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"log/slog"

	"github.com/absmach/fluxpub/config"
	"github.com/absmach/fluxpub/failover"
	"github.com/absmach/fluxpub/producer"
	"github.com/absmach/fluxpub/selector"
)

// DispatcherConfig converts the dispatcher section to failover settings.
func DispatcherConfig(cfg config.DispatcherConfig) failover.Config {
	return failover.Config{
		MaxAttempts:          cfg.MaxAttempts,
		RetryDelay:           cfg.RetryDelay,
		InactivityResetDelay: cfg.InactivityResetDelay,
		BackoffUnit:          cfg.BackoffUnit,
	}
}

// BuildDispatcher creates a round-robin dispatcher over producers.
func BuildDispatcher(cfg *config.Config, producers []producer.Producer, logger *slog.Logger, metrics *failover.Metrics) (*failover.Dispatcher, error) {
	sel := selector.NewRoundRobin(producers...)
	return failover.New(sel, DispatcherConfig(cfg.Dispatcher),
		failover.WithLogger(logger),
		failover.WithMetrics(metrics))
}
