// Package tcontext contains context helpers
package tcontext

import (
	"context"
	"time"
)

// Reopen returns a context that keeps the values of the given parent (the
// logger in particular) but is detached from its cancellation and deadline.
//
// It is used for work shared between several callers, such as a cached call,
// which must not be aborted when the caller that happened to start it goes
// away. Reopen works on an already closed context too.
func Reopen(ctx context.Context) context.Context {
	return reopened{Context: ctx}
}

type reopened struct {
	context.Context //nolint:containedctx // this struct exists to wrap a context
}

func (reopened) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (reopened) Done() <-chan struct{} {
	return nil
}

func (reopened) Err() error {
	return nil
}
