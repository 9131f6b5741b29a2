package request

import (
	"context"
	"sync"
	"time"
)

// Token is the cancellation token of one call.
//
// The coordinator arms a timer for every call. A body that has received the
// answer calls Cancel to disarm it; if Cancel returns false the call has
// already timed out and the answer must be dropped. Cancellation is
// cooperative: a body doing several steps polls IsCancelled between them.
type Token struct {
	mu        sync.Mutex
	timer     *time.Timer
	elapsed   bool
	cancelled bool
	ctx       context.Context //nolint:containedctx // the body's context, closed on timeout
}

// Cancel disarms the timeout. Returns false if the timeout has already elapsed.
func (t *Token) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.elapsed {
		return false
	}
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Elapsed returns true if the timeout has fired
func (t *Token) Elapsed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.elapsed
}

// IsCancelled returns true if the body should stop: the timeout has fired or
// the context of the call is closed
func (t *Token) IsCancelled() bool {
	if t.Elapsed() {
		return true
	}
	return t.ctx != nil && t.ctx.Err() != nil
}

// expire marks the token elapsed unless the timeout has been disarmed
func (t *Token) expire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled || t.elapsed {
		return false
	}
	t.elapsed = true
	return true
}
