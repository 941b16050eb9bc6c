// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package backoff keeps the adaptive retry delay of each producer.
//
// Delays grow on failure, drop to zero on success and are forgotten once a
// producer has gone untouched for the inactivity period. Expiry is evaluated
// lazily on access, so the store owns no goroutines or timers.
package backoff

import (
	"sync"
	"time"

	"github.com/absmach/fluxpub/producer"
	"github.com/jonboulle/clockwork"
)

// DefaultUnit is the step the growth rule adds before doubling.
const DefaultUnit = time.Millisecond

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for expiry. Tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithUnit sets the growth step. Non-positive values are ignored.
func WithUnit(unit time.Duration) Option {
	return func(s *Store) {
		if unit > 0 {
			s.unit = unit
		}
	}
}

type entry struct {
	delay       time.Duration
	lastTouched time.Time
}

// Store maps producer identities to their current retry delay.
type Store struct {
	mu              sync.Mutex
	entries         map[producer.ID]*entry
	inactivityReset time.Duration
	unit            time.Duration
	clock           clockwork.Clock
}

// New creates a store. An inactivityReset of zero or less disables expiry.
func New(inactivityReset time.Duration, opts ...Option) *Store {
	s := &Store{
		entries:         make(map[producer.ID]*entry),
		inactivityReset: inactivityReset,
		unit:            DefaultUnit,
		clock:           clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DelayFor returns the live delay for id, or zero when there is none.
// It never refreshes the entry.
func (s *Store) DelayFor(id producer.ID) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	e := s.live(id, now)
	if e == nil {
		return 0
	}
	return e.delay
}

// Escalate grows the delay of id to min(2*(previous+unit), maxDelay) and
// returns the new value.
func (s *Store) Escalate(id producer.ID, maxDelay time.Duration) time.Duration {
	if maxDelay < 0 {
		maxDelay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	var prev time.Duration
	e := s.live(id, now)
	if e != nil {
		prev = e.delay
	} else {
		e = &entry{}
		s.entries[id] = e
	}

	next := 2 * (prev + s.unit)
	if next > maxDelay {
		next = maxDelay
	}
	e.delay = next
	e.lastTouched = now
	return next
}

// Decay resets the delay of id to zero. The entry stays so inactivity
// expiry applies to it like to any other.
func (s *Store) Decay(id producer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	e.delay = 0
	e.lastTouched = now
}

// Reset forgets id.
func (s *Store) Reset(id producer.ID) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Sweep drops every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	return s.sweep(now)
}

// Snapshot returns the live delays keyed by producer identity.
func (s *Store) Snapshot() map[producer.ID]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	s.sweep(now)
	out := make(map[producer.ID]time.Duration, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.delay
	}
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	s.sweep(now)
	return len(s.entries)
}

// live returns the entry for id, dropping it first if it expired.
// Callers hold s.mu.
func (s *Store) live(id producer.ID, now time.Time) *entry {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	if s.expired(e, now) {
		delete(s.entries, id)
		return nil
	}
	return e
}

func (s *Store) sweep(now time.Time) int {
	if s.inactivityReset <= 0 {
		return 0
	}

	removed := 0
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return s.inactivityReset > 0 && now.Sub(e.lastTouched) >= s.inactivityReset
}
