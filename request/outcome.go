package request

import (
	"context"
	"encoding/json"
	"sync"
)

// Outcome is the pending or settled result of a call. Callers that hit the
// cache share the same Outcome.
type Outcome struct {
	done    chan struct{}
	once    sync.Once
	results []json.RawMessage
	err     error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// Failed returns an already settled Outcome carrying err
func Failed(err error) *Outcome {
	o := newOutcome()
	o.settle(nil, err)
	return o
}

// settle records the result; only the first call has an effect
func (o *Outcome) settle(results []json.RawMessage, err error) bool {
	settled := false
	o.once.Do(func() {
		o.results = results
		o.err = err
		close(o.done)
		settled = true
	})
	return settled
}

// Done returns a channel closed once the outcome is settled
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the outcome is settled or ctx is closed.
//
// The returned slice is shared between all waiters and must not be modified.
func (o *Outcome) Wait(ctx context.Context) ([]json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.done:
		return o.results, o.err
	}
}
