// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements a producer that publishes to an MQTT 3.1.1
// broker. MQTT 3.1.1 has no message properties, so only the topic and
// payload of a message are sent.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxpub/producer"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Producer publishes messages to one MQTT broker.
type Producer struct {
	id       producer.ID
	clientID string
	endpoint string
	opts     *Options
	client   paho.Client
	logger   *slog.Logger

	closing atomic.Bool
}

var _ producer.Producer = (*Producer)(nil)

// New creates a new MQTT producer with the given options. It does not
// connect; call Connect before publishing.
func New(opts *Options, logger *slog.Logger) (*Producer, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Producer{
		id:       producer.NewID(),
		clientID: opts.ClientID,
		endpoint: opts.endpoint(),
		opts:     opts,
		logger:   logger,
	}
	if p.clientID == "" {
		p.clientID = "fluxpub-" + p.id.String()[:8]
	}
	p.client = paho.NewClient(p.clientOptions())
	return p, nil
}

func (p *Producer) clientOptions() *paho.ClientOptions {
	co := paho.NewClientOptions().
		AddBroker(p.opts.Broker).
		SetClientID(p.clientID).
		SetCleanSession(p.opts.CleanSession).
		SetKeepAlive(p.opts.KeepAlive).
		SetConnectTimeout(p.opts.ConnectTimeout).
		SetAutoReconnect(p.opts.AutoReconnect).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt producer connected",
				slog.String("producer_id", p.id.String()),
				slog.String("endpoint", p.endpoint))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt producer connection lost",
				slog.String("producer_id", p.id.String()),
				slog.String("endpoint", p.endpoint),
				slog.String("error", err.Error()))
		})
	if p.opts.Username != "" {
		co.SetUsername(p.opts.Username).SetPassword(p.opts.Password)
	}
	if p.opts.TLSConfig != nil {
		co.SetTLSConfig(p.opts.TLSConfig)
	}
	return co
}

// ID implements producer.Producer.
func (p *Producer) ID() producer.ID {
	return p.id
}

// Endpoint returns the broker URL with the password redacted.
func (p *Producer) Endpoint() string {
	return p.endpoint
}

// ClientID returns the MQTT client identifier the producer connects with.
func (p *Producer) ClientID() string {
	return p.clientID
}

// Connect connects to the broker, waiting up to the connect timeout.
func (p *Producer) Connect() error {
	if p.closing.Load() {
		return ErrClosed
	}
	if p.client.IsConnected() {
		return ErrAlreadyConnected
	}

	timeout := p.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	tok := p.client.Connect()
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("connect to %s: %w", p.endpoint, ErrTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", p.endpoint, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Producer) Close() error {
	if p.closing.Swap(true) {
		return nil
	}
	p.client.Disconnect(uint(DefaultQuiesce / time.Millisecond))
	return nil
}

// IsConnected reports whether the connection is currently open.
func (p *Producer) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends msg and resolves the token when paho reports the publish
// complete, the publish timeout passes, or ctx ends.
func (p *Producer) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	if msg == nil {
		return producer.CompletedToken(producer.ErrNilMessage)
	}
	if p.closing.Load() {
		return producer.CompletedToken(ErrClosed)
	}
	if !p.client.IsConnectionOpen() {
		return producer.CompletedToken(ErrNotConnected)
	}

	topic := msg.Topic
	if topic == "" {
		topic = p.opts.Topic
	}
	if topic == "" {
		return producer.CompletedToken(ErrInvalidTopic)
	}

	timeout := p.opts.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}

	ptok := p.client.Publish(topic, p.opts.QoS, p.opts.Retained, msg.Payload)
	tok := producer.NewToken()
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-ptok.Done():
			if err := ptok.Error(); err != nil {
				tok.Complete(fmt.Errorf("publish to %s: %w", topic, err))
				return
			}
			tok.Complete(nil)
		case <-timer.C:
			tok.Complete(ErrTimeout)
		case <-ctx.Done():
			tok.Complete(ctx.Err())
		}
	}()
	return tok
}
