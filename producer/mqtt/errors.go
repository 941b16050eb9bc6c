// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import "errors"

// Producer errors.
var (
	ErrNoBroker         = errors.New("no broker URL configured")
	ErrInvalidQoS       = errors.New("qos must be 0, 1 or 2")
	ErrNotConnected     = errors.New("producer not connected")
	ErrAlreadyConnected = errors.New("producer already connected")
	ErrClosed           = errors.New("producer closed")
	ErrTimeout          = errors.New("operation timed out")
	ErrInvalidTopic     = errors.New("topic cannot be empty")
)
