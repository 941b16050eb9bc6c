// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"sync"
)

// Token is the asynchronous outcome of a Publish call.
type Token interface {
	// Done is closed once the outcome is known.
	Done() <-chan struct{}

	// Error returns the publish error. It is only meaningful after Done
	// is closed; nil means the message was accepted.
	Error() error

	// Wait blocks until the token resolves or ctx ends.
	Wait(ctx context.Context) error
}

// CompletionToken is a Token resolved by the producer that issued it.
type CompletionToken struct {
	done chan struct{}
	once sync.Once
	err  error
}

var _ Token = (*CompletionToken)(nil)

// NewToken creates an unresolved token.
func NewToken() *CompletionToken {
	return &CompletionToken{done: make(chan struct{})}
}

// CompletedToken returns a token that is already resolved with err.
func CompletedToken(err error) *CompletionToken {
	t := NewToken()
	t.Complete(err)
	return t
}

// Complete resolves the token. Only the first call has an effect.
func (t *CompletionToken) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done implements Token.
func (t *CompletionToken) Done() <-chan struct{} {
	return t.done
}

// Error implements Token.
func (t *CompletionToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait implements Token.
func (t *CompletionToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
