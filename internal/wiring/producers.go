// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wiring assembles producers and the failover dispatcher from
// configuration.
package wiring

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxpub/breaker"
	"github.com/absmach/fluxpub/config"
	"github.com/absmach/fluxpub/failover"
	"github.com/absmach/fluxpub/producer"
	amqpproducer "github.com/absmach/fluxpub/producer/amqp"
	"github.com/absmach/fluxpub/producer/middleware"
	mqttproducer "github.com/absmach/fluxpub/producer/mqtt"
	"github.com/absmach/fluxpub/ratelimit"
)

// ErrNoProducerConnected is returned when every configured producer failed
// to connect.
var ErrNoProducerConnected = errors.New("no producer could connect")

// Transport is a producer that owns a broker connection.
type Transport interface {
	producer.Producer
	Connect() error
	Close() error
}

// Factory creates an unconnected transport from its configuration.
type Factory func(cfg config.ProducerConfig, logger *slog.Logger) (Transport, error)

// Factories maps producer types to their factories.
var Factories = map[string]Factory{
	config.ProducerAMQP: newAMQP,
	config.ProducerMQTT: newMQTT,
}

func newAMQP(cfg config.ProducerConfig, logger *slog.Logger) (Transport, error) {
	opts := amqpproducer.NewOptions().
		SetURL(cfg.URL).
		SetExchange(cfg.Exchange).
		SetRoutingKey(cfg.RoutingKey)
	if cfg.ConfirmTimeout > 0 {
		opts.SetConfirmTimeout(cfg.ConfirmTimeout)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetDialTimeout(cfg.ConnectTimeout)
	}
	p, err := amqpproducer.New(opts, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newMQTT(cfg config.ProducerConfig, logger *slog.Logger) (Transport, error) {
	opts := mqttproducer.NewOptions().
		SetBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetCredentials(cfg.Username, cfg.Password).
		SetTopic(cfg.Topic).
		SetQoS(cfg.QoS).
		SetRetained(cfg.Retained)
	if cfg.PublishTimeout > 0 {
		opts.SetPublishTimeout(cfg.PublishTimeout)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	p, err := mqttproducer.New(opts, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Pool holds the decorated producers and the transports behind them.
type Pool struct {
	Producers  []producer.Producer
	transports []Transport
}

// Close closes every transport.
func (p *Pool) Close() error {
	var errs []error
	for _, t := range p.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Endpoint(), err))
		}
	}
	return errors.Join(errs...)
}

// BuildProducers creates, connects and decorates the configured producers.
// A producer that fails to connect stays in the pool, since its transport
// may recover and the dispatcher fails over around it meanwhile. It is an
// error only when none connects.
func BuildProducers(cfg *config.Config, logger *slog.Logger, metrics *failover.Metrics) (*Pool, error) {
	return buildProducers(cfg, logger, metrics, Factories)
}

func buildProducers(cfg *config.Config, logger *slog.Logger, metrics *failover.Metrics, factories map[string]Factory) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool := &Pool{}
	connected := 0
	for _, pc := range cfg.Producers {
		factory, ok := factories[pc.Type]
		if !ok {
			_ = pool.Close()
			return nil, fmt.Errorf("producer %s: unsupported type %q", pc.Name, pc.Type)
		}

		instances := pc.Instances
		if instances < 1 {
			instances = 1
		}
		for i := 0; i < instances; i++ {
			t, err := factory(instanceConfig(pc, i, instances), logger)
			if err != nil {
				_ = pool.Close()
				return nil, fmt.Errorf("producer %s: %w", pc.Name, err)
			}
			pool.transports = append(pool.transports, t)

			if err := t.Connect(); err != nil {
				logger.Warn("producer failed to connect",
					slog.String("name", pc.Name),
					slog.String("producer_id", t.ID().String()),
					slog.String("endpoint", t.Endpoint()),
					slog.String("error", err.Error()))
			} else {
				connected++
			}

			p, err := decorate(t, cfg, logger, metrics)
			if err != nil {
				_ = pool.Close()
				return nil, fmt.Errorf("producer %s: %w", pc.Name, err)
			}
			pool.Producers = append(pool.Producers, p)
		}
	}

	if connected == 0 {
		_ = pool.Close()
		return nil, ErrNoProducerConnected
	}

	logger.Info("producers ready",
		slog.Int("configured", len(pool.Producers)),
		slog.Int("connected", connected))

	return pool, nil
}

// instanceConfig returns the configuration of instance i of n. A broker
// keeps one session per MQTT client ID, so instances sharing a configured ID
// get a numeric suffix each.
func instanceConfig(pc config.ProducerConfig, i, n int) config.ProducerConfig {
	if n > 1 && pc.ClientID != "" {
		pc.ClientID = fmt.Sprintf("%s-%d", pc.ClientID, i)
	}
	return pc
}

// decorate wraps t in observability, rate limiting and circuit breaking.
// The breaker is outermost so an open circuit fails without waiting on the
// limiter.
func decorate(t Transport, cfg *config.Config, logger *slog.Logger, metrics *failover.Metrics) (producer.Producer, error) {
	var p producer.Producer = t
	p = middleware.NewMetrics(p, metrics)
	p = middleware.NewLogging(p, logger)

	if cfg.RateLimit.Enabled {
		rl, err := ratelimit.Wrap(p, cfg.RateLimit.Rate, cfg.RateLimit.Burst)
		if err != nil {
			return nil, err
		}
		p = rl
	}

	if cfg.Breaker.Enabled {
		p = breaker.Wrap(p, breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
		}, logger)
	}

	return p, nil
}
