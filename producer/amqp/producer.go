// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package amqp implements a producer that publishes to an AMQP 0.9.1
// broker with publisher confirms.
package amqp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxpub/producer"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp091.Channel used for publishing.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp091.Confirmation) chan amqp091.Confirmation
	NotifyClose(c chan *amqp091.Error) chan *amqp091.Error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

var _ Channel = (*amqp091.Channel)(nil)

const confirmBuffer = 64

type dialFunc func(opts *Options) (io.Closer, Channel, error)

// Producer publishes messages to one AMQP 0.9.1 broker. Publishes are
// written one at a time; their confirms are awaited concurrently.
type Producer struct {
	id       producer.ID
	opts     *Options
	endpoint string
	logger   *slog.Logger
	dial     dialFunc

	conn     io.Closer
	ch       Channel
	confirms *confirmTracker
	connMu   sync.RWMutex

	publishMu sync.Mutex

	connected    atomic.Bool
	closing      atomic.Bool
	reconnecting atomic.Bool
	stopCh       chan struct{}
	closeOnce    sync.Once
}

var _ producer.Producer = (*Producer)(nil)

// New creates a new AMQP producer with the given options. It does not
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

	return &Producer{
		id:       producer.NewID(),
		opts:     opts,
		endpoint: opts.endpoint(),
		logger:   logger,
		dial:     dial,
		stopCh:   make(chan struct{}),
	}, nil
}

// ID implements producer.Producer.
func (p *Producer) ID() producer.ID {
	return p.id
}

// Endpoint returns the broker URL with the password redacted.
func (p *Producer) Endpoint() string {
	return p.endpoint
}

// Connect establishes a connection to the broker and enables publisher
// confirms on its channel. If the first attempt fails and AutoReconnect is
// set, the producer keeps dialing in the background.
func (p *Producer) Connect() error {
	if p.closing.Load() {
		return ErrClosed
	}
	if p.connected.Load() {
		return ErrAlreadyConnected
	}

	if err := p.connectOnce(); err != nil {
		if p.opts.AutoReconnect {
			p.startReconnect()
		}
		return fmt.Errorf("connect to %s: %w", p.endpoint, err)
	}
	return nil
}

// Close closes the connection and stops reconnecting.
func (p *Producer) Close() error {
	if p.closing.Swap(true) {
		return nil
	}

	p.closeOnce.Do(func() {
		close(p.stopCh)
	})

	p.connMu.Lock()
	p.connected.Store(false)
	p.cleanupLocked()
	p.connMu.Unlock()
	return nil
}

// IsConnected reports whether the producer is connected.
func (p *Producer) IsConnected() bool {
	return p.connected.Load()
}

// Publish sends msg and resolves the token once the broker confirms it.
// The routing key is Options.RoutingKey, or the message topic when unset.
func (p *Producer) Publish(ctx context.Context, msg *producer.Message) producer.Token {
	if msg == nil {
		return producer.CompletedToken(producer.ErrNilMessage)
	}
	if p.closing.Load() {
		return producer.CompletedToken(ErrClosed)
	}
	if !p.connected.Load() {
		return producer.CompletedToken(ErrNotConnected)
	}

	key := p.opts.RoutingKey
	if key == "" {
		key = msg.Topic
	}
	if key == "" {
		return producer.CompletedToken(ErrInvalidTopic)
	}

	publishing := p.publishing(msg)
	tok := producer.NewToken()
	go func() {
		tok.Complete(p.publishWithConfirm(ctx, key, publishing))
	}()
	return tok
}

func (p *Producer) publishing(msg *producer.Message) amqp091.Publishing {
	pub := amqp091.Publishing{
		ContentType: msg.ContentType,
		MessageId:   msg.Key,
		Timestamp:   msg.Timestamp,
		Body:        msg.Payload,
	}
	if pub.Timestamp.IsZero() {
		pub.Timestamp = time.Now()
	}
	if p.opts.Persistent {
		pub.DeliveryMode = amqp091.Persistent
	}
	if len(msg.Headers) > 0 {
		pub.Headers = make(amqp091.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			pub.Headers[k] = v
		}
	}
	return pub
}

// publishWithConfirm waits for the broker to confirm pub. Giving up on a
// confirm, by timeout or cancellation, leaves the channel to other
// publishes.
func (p *Producer) publishWithConfirm(ctx context.Context, key string, pub amqp091.Publishing) error {
	confirms, tag, done, err := p.send(ctx, key, pub)
	if err != nil {
		return err
	}

	timeout := p.opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		confirms.forget(tag)
		return ErrTimeout
	case <-ctx.Done():
		confirms.forget(tag)
		return ctx.Err()
	}
}

func (p *Producer) send(ctx context.Context, key string, pub amqp091.Publishing) (*confirmTracker, uint64, <-chan error, error) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.connMu.RLock()
	ch := p.ch
	confirms := p.confirms
	p.connMu.RUnlock()
	if ch == nil || confirms == nil || !p.connected.Load() {
		return nil, 0, nil, ErrNotConnected
	}

	tag, done, err := confirms.reserve()
	if err != nil {
		return nil, 0, nil, err
	}
	if err := ch.PublishWithContext(ctx, p.opts.Exchange, key, p.opts.Mandatory, false, pub); err != nil {
		confirms.release(tag)
		return nil, 0, nil, fmt.Errorf("publish: %w", err)
	}
	return confirms, tag, done, nil
}

func dial(opts *Options) (io.Closer, Channel, error) {
	url, err := opts.dialURL()
	if err != nil {
		return nil, nil, err
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	cfg := amqp091.Config{
		TLSClientConfig: opts.TLSConfig,
		Heartbeat:       opts.Heartbeat,
		Dial:            dialer.Dial,
	}

	conn, err := amqp091.DialConfig(url, cfg)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (p *Producer) connectOnce() error {
	conn, ch, err := p.dial(p.opts)
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := newConfirmTracker(ch.NotifyPublish(make(chan amqp091.Confirmation, confirmBuffer)))

	p.connMu.Lock()
	if p.closing.Load() {
		p.connMu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return ErrClosed
	}
	p.conn = conn
	p.ch = ch
	p.confirms = confirms
	p.connMu.Unlock()

	p.connected.Store(true)
	p.watchClose(ch)

	p.logger.Info("amqp producer connected",
		slog.String("producer_id", p.id.String()),
		slog.String("endpoint", p.endpoint))

	if p.opts.OnConnect != nil {
		go p.opts.OnConnect()
	}

	return nil
}

func (p *Producer) watchClose(ch Channel) {
	chClose := ch.NotifyClose(make(chan *amqp091.Error, 1))

	go func() {
		select {
		case err := <-chClose:
			var cause error = ErrNotConnected
			if err != nil {
				cause = err
			}
			p.handleDisconnect(ch, cause)
		case <-p.stopCh:
			return
		}
	}()
}

// handleDisconnect tears down ch if it is still the active channel.
func (p *Producer) handleDisconnect(ch Channel, err error) {
	if p.closing.Load() {
		return
	}

	p.connMu.Lock()
	if p.ch != ch {
		p.connMu.Unlock()
		return
	}
	p.connected.Store(false)
	p.cleanupLocked()
	p.connMu.Unlock()

	p.logger.Warn("amqp producer connection lost",
		slog.String("producer_id", p.id.String()),
		slog.String("endpoint", p.endpoint),
		slog.String("error", err.Error()))

	if p.opts.OnConnectionLost != nil {
		go p.opts.OnConnectionLost(err)
	}

	if p.opts.AutoReconnect {
		p.startReconnect()
	}
}

func (p *Producer) startReconnect() {
	if !p.reconnecting.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer p.reconnecting.Store(false)

		delay := p.opts.ReconnectBackoff
		if delay <= 0 {
			delay = DefaultReconnectBackoff
		}

		maxDelay := p.opts.MaxReconnectWait
		if maxDelay <= 0 {
			maxDelay = DefaultMaxReconnectWait
		}

		for attempt := 1; ; attempt++ {
			select {
			case <-p.stopCh:
				return
			default:
			}

			err := p.connectOnce()
			if err == nil {
				return
			}
			p.logger.Debug("amqp producer reconnect failed",
				slog.String("endpoint", p.endpoint),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-p.stopCh:
				timer.Stop()
				return
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}()
}

// cleanupLocked must be called with connMu held.
func (p *Producer) cleanupLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.confirms = nil
}
