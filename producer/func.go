// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import "context"

// PublishFunc sends one message synchronously.
type PublishFunc func(ctx context.Context, msg *Message) error

// Func adapts a synchronous publish function to the Producer interface.
// Each Publish call runs the function on its own goroutine.
type Func struct {
	id       ID
	endpoint string
	fn       PublishFunc
}

var _ Producer = (*Func)(nil)

// NewFunc creates a function-backed producer with a fresh identity.
func NewFunc(endpoint string, fn PublishFunc) *Func {
	return &Func{
		id:       NewID(),
		endpoint: endpoint,
		fn:       fn,
	}
}

// ID implements Producer.
func (f *Func) ID() ID {
	return f.id
}

// Endpoint implements Producer.
func (f *Func) Endpoint() string {
	return f.endpoint
}

// Publish implements Producer.
func (f *Func) Publish(ctx context.Context, msg *Message) Token {
	if msg == nil {
		return CompletedToken(ErrNilMessage)
	}
	if f.fn == nil {
		return CompletedToken(ErrNilFunc)
	}

	t := NewToken()
	go func() {
		t.Complete(f.fn(ctx, msg))
	}()
	return t
}
