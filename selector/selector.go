// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package selector chooses which producer a dispatch attempt goes to.
package selector

import (
	"errors"
	"sync/atomic"

	"github.com/absmach/fluxpub/producer"
)

// ErrNoProducersAvailable is returned when a selector has nothing to yield.
var ErrNoProducersAvailable = errors.New("no producers available")

// Selector yields the next producer to try. Implementations must be safe
// for concurrent use.
type Selector interface {
	Next() (producer.Producer, error)
}

// RoundRobin rotates over a fixed set of producers.
type RoundRobin struct {
	producers []producer.Producer
	cursor    atomic.Uint64
}

var _ Selector = (*RoundRobin)(nil)

// NewRoundRobin creates a round-robin selector over a copy of producers.
func NewRoundRobin(producers ...producer.Producer) *RoundRobin {
	ps := make([]producer.Producer, 0, len(producers))
	for _, p := range producers {
		if p != nil {
			ps = append(ps, p)
		}
	}

	return &RoundRobin{producers: ps}
}

// Next implements Selector. Concurrent callers each get a distinct slot
// until the cursor wraps around.
func (r *RoundRobin) Next() (producer.Producer, error) {
	n := uint64(len(r.producers))
	if n == 0 {
		return nil, ErrNoProducersAvailable
	}

	idx := (r.cursor.Add(1) - 1) % n
	return r.producers[idx], nil
}

// Len returns the number of producers in rotation.
func (r *RoundRobin) Len() int {
	return len(r.producers)
}

// Producers returns a copy of the producers in rotation order.
func (r *RoundRobin) Producers() []producer.Producer {
	ps := make([]producer.Producer, len(r.producers))
	copy(ps, r.producers)
	return ps
}
