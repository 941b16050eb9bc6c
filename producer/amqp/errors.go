// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import "errors"

// Producer errors.
var (
	ErrNoAddress        = errors.New("no broker address configured")
	ErrNotConnected     = errors.New("producer not connected")
	ErrAlreadyConnected = errors.New("producer already connected")
	ErrClosed           = errors.New("producer closed")
	ErrPublisherConfirm = errors.New("publisher confirm not acknowledged")
	ErrConfirmClosed    = errors.New("confirm channel closed")
	ErrTimeout          = errors.New("operation timed out")
	ErrInvalidTopic     = errors.New("routing key and topic cannot both be empty")
)
