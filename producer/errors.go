// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"errors"
	"fmt"
	"time"
)

// Producer errors.
var (
	ErrNilMessage = errors.New("message cannot be nil")
	ErrNilFunc    = errors.New("publish function cannot be nil")
	ErrNilToken   = errors.New("producer returned a nil token")
)

// PublishError records one failed publish attempt.
type PublishError struct {
	Producer ID
	Endpoint string
	Attempt  int
	Delay    time.Duration
	Err      error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("attempt %d: publish to %s (%s) failed: %v", e.Attempt, e.Endpoint, e.Producer, e.Err)
}

// Unwrap returns the transport error.
func (e *PublishError) Unwrap() error {
	return e.Err
}
