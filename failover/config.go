// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package failover

import (
	"time"

	"github.com/absmach/fluxpub/backoff"
)

// Default values.
const (
	DefaultMaxAttempts          = 3
	DefaultRetryDelay           = 5 * time.Second
	DefaultInactivityResetDelay = time.Minute
	DefaultBackoffUnit          = backoff.DefaultUnit
)

// Config bounds the retry loop of a Dispatcher.
type Config struct {
	// MaxAttempts is the number of publish attempts per Send. Zero makes
	// every Send fail at once with an empty FailoverError.
	MaxAttempts int

	// RetryDelay caps the per-producer backoff delay.
	RetryDelay time.Duration

	// InactivityResetDelay is how long a producer's backoff state survives
	// without successes or failures. Zero keeps it forever.
	InactivityResetDelay time.Duration

	// BackoffUnit is the step of the 2*(previous+unit) growth rule.
	// Zero selects DefaultBackoffUnit.
	BackoffUnit time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          DefaultMaxAttempts,
		RetryDelay:           DefaultRetryDelay,
		InactivityResetDelay: DefaultInactivityResetDelay,
		BackoffUnit:          DefaultBackoffUnit,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return ErrInvalidMaxAttempts
	}
	if c.RetryDelay < 0 {
		return ErrInvalidRetryDelay
	}
	if c.InactivityResetDelay < 0 {
		return ErrInvalidInactivity
	}
	if c.BackoffUnit < 0 {
		return ErrInvalidBackoffUnit
	}
	return nil
}
