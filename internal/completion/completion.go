// Package completion provides a single-shot asynchronous result, resolved
// exactly once by a collaborator (chooser, camera, permission prompt) and
// consumed by the controller that issued the request.
package completion

import (
	"context"
	"sync"
)

// Result is what a Completion resolves to. Cancelled is a distinct, non-error
// outcome: the user dismissed the dialog.
type Result[T any] struct {
	Value     T
	Cancelled bool
	Err       error
}

// Completion is resolved at most once. Only the first of Resolve, Cancel or
// Fail has any effect. It has a single consumer.
type Completion[T any] struct {
	once sync.Once
	ch   chan Result[T]
}

// New returns an unresolved completion.
func New[T any]() *Completion[T] {
	return &Completion[T]{ch: make(chan Result[T], 1)}
}

// Resolved returns a completion already resolved with v.
func Resolved[T any](v T) *Completion[T] {
	c := New[T]()
	c.Resolve(v)
	return c
}

// Cancelled returns a completion already resolved as cancelled.
func Cancelled[T any]() *Completion[T] {
	c := New[T]()
	c.Cancel()
	return c
}

// Failed returns a completion already resolved with err.
func Failed[T any](err error) *Completion[T] {
	c := New[T]()
	c.Fail(err)
	return c
}

// Resolve completes with v. It reports whether this call resolved c.
func (c *Completion[T]) Resolve(v T) bool {
	return c.complete(Result[T]{Value: v})
}

// Cancel completes as cancelled.
func (c *Completion[T]) Cancel() bool {
	return c.complete(Result[T]{Cancelled: true})
}

// Fail completes with err.
func (c *Completion[T]) Fail(err error) bool {
	return c.complete(Result[T]{Err: err})
}

func (c *Completion[T]) complete(r Result[T]) bool {
	done := false
	c.once.Do(func() {
		c.ch <- r
		done = true
	})
	return done
}

// Done exposes the result channel for use in select statements.
func (c *Completion[T]) Done() <-chan Result[T] {
	return c.ch
}

// Wait blocks until c resolves or ctx ends.
func (c *Completion[T]) Wait(ctx context.Context) (Result[T], error) {
	select {
	case r := <-c.ch:
		return r, nil
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}
