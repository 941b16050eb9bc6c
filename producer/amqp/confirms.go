// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// confirmTracker matches publisher confirms to waiting publishes by delivery
// tag. The broker numbers publishes on a channel from 1 in publish order, so
// reserve must be called in the same order as the publishes it covers.
type confirmTracker struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan error
	closed  bool
}

// newConfirmTracker drains confirms until the channel closes, then fails
// every publish still waiting.
func newConfirmTracker(confirms <-chan amqp091.Confirmation) *confirmTracker {
	t := &confirmTracker{pending: make(map[uint64]chan error)}
	go t.run(confirms)
	return t
}

func (t *confirmTracker) run(confirms <-chan amqp091.Confirmation) {
	for c := range confirms {
		var err error
		if !c.Ack {
			err = ErrPublisherConfirm
		}
		t.resolve(c.DeliveryTag, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for tag, done := range t.pending {
		done <- ErrConfirmClosed
		delete(t.pending, tag)
	}
}

// reserve claims the tag of the next publish.
func (t *confirmTracker) reserve() (uint64, <-chan error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, nil, ErrConfirmClosed
	}
	t.next++
	done := make(chan error, 1)
	t.pending[t.next] = done
	return t.next, done, nil
}

// release returns a tag whose publish never reached the broker. It must be
// called before the next reserve.
func (t *confirmTracker) release(tag uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, tag)
	if t.next == tag {
		t.next--
	}
}

// forget stops waiting on tag. A confirm arriving later is discarded.
func (t *confirmTracker) forget(tag uint64) {
	t.mu.Lock()
	delete(t.pending, tag)
	t.mu.Unlock()
}

func (t *confirmTracker) resolve(tag uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if done, ok := t.pending[tag]; ok {
		done <- err
		delete(t.pending, tag)
	}
}
