// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package producer defines the publishing capability consumed by the
// failover dispatcher, together with its identity and completion types.
package producer

import (
	"context"

	"github.com/google/uuid"
)

// ID identifies one producer instance. It is minted once per instance and
// never derived from the endpoint, so two producers dialing the same broker
// still have distinct identities.
type ID uuid.UUID

// NewID returns a fresh producer identity.
func NewID() ID {
	return ID(uuid.New())
}

// Nil is the zero identity.
var Nil ID

// String returns the canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Producer sends single messages to one broker endpoint or channel.
type Producer interface {
	// ID returns the stable identity of this instance.
	ID() ID

	// Endpoint returns a descriptive label (usually the connection URL).
	// It is meant for diagnostics only.
	Endpoint() string

	// Publish starts sending msg and returns a token that resolves once
	// the outcome is known. Publish must not block on the broker.
	Publish(ctx context.Context, msg *Message) Token
}
