// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package failover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/absmach/fluxpub/producer"
	"github.com/absmach/fluxpub/selector"
)

// Dispatcher errors.
var (
	// Lifecycle errors.
	ErrDisposed = errors.New("dispatcher has been disposed")

	// Selection errors. The value is shared with the selector package so
	// errors.Is matches either name.
	ErrNoProducersAvailable = selector.ErrNoProducersAvailable

	// ErrAttemptsExhausted matches every *FailoverError via errors.Is.
	ErrAttemptsExhausted = errors.New("publish attempts exhausted")

	// Configuration errors.
	ErrNilSelector        = errors.New("selector cannot be nil")
	ErrInvalidMaxAttempts = errors.New("max attempts cannot be negative")
	ErrInvalidRetryDelay  = errors.New("retry delay cannot be negative")
	ErrInvalidInactivity  = errors.New("inactivity reset delay cannot be negative")
	ErrInvalidBackoffUnit = errors.New("backoff unit cannot be negative")

	// ErrNilToken is reported as the attempt error when a producer returns
	// no token.
	ErrNilToken = producer.ErrNilToken
)

// FailoverError is returned by Send once every attempt has failed. Errors
// holds one *producer.PublishError per attempt, in attempt order.
type FailoverError struct {
	AttemptsMade int
	Errors       []error
}

// Error implements the error interface.
func (e *FailoverError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("publish failed after %d attempts", e.AttemptsMade)
	}

	causes := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		causes[i] = err.Error()
	}
	return fmt.Sprintf("publish failed after %d attempts: [%s]", e.AttemptsMade, strings.Join(causes, "; "))
}

// Unwrap exposes every attempt error to errors.Is and errors.As.
func (e *FailoverError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is ErrAttemptsExhausted.
func (e *FailoverError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}

// Producers returns the identity of the producer behind each failed
// attempt, in attempt order.
func (e *FailoverError) Producers() []producer.ID {
	ids := make([]producer.ID, 0, len(e.Errors))
	for _, err := range e.Errors {
		var perr *producer.PublishError
		if errors.As(err, &perr) {
			ids = append(ids, perr.Producer)
		}
	}
	return ids
}
