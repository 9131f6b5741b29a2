// Package retry repeats operations with configurable delays between attempts.
//
// It drives both bounded loops (waiting for the transport to appear, retrying
// the bootstrap step) and the unbounded reconnect backoff of the socket.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ridge/iosocket/tlog"
	"go.uber.org/zap"
)

// DelayFn produces the delays between attempts, one call per attempt.
//
// It returns the delay before the next attempt and whether that attempt
// should be made at all. Once ok is false the sequence is over and the
// function is not called again. The first call must return ok == true, and
// its delay is applied before the very first attempt, so it is usually zero.
type DelayFn func() (delay time.Duration, ok bool)

// Config defines retry intervals.
//
// Implementations are normally stateless: each call to Delays starts an
// independent sequence.
type Config interface {
	Delays() DelayFn
}

// FixedConfig defines fixed retry intervals
type FixedConfig struct {
	// TryAfter is the delay before the first attempt
	TryAfter time.Duration

	// RetryAfter is the delay before each subsequent attempt
	RetryAfter time.Duration

	// MaxAttempts is the maximum number of attempts taken; 0 = unlimited
	MaxAttempts int
}

// Delays implements interface Config
func (c FixedConfig) Delays() DelayFn {
	attempts := 0
	return func() (time.Duration, bool) {
		attempts++
		switch {
		case attempts == 1:
			return c.TryAfter, true
		case c.MaxAttempts != 0 && attempts > c.MaxAttempts:
			return 0, false
		default:
			return c.RetryAfter, true
		}
	}
}

// ErrRetriable marks an error after which the operation should be tried again
type ErrRetriable struct {
	err error
}

func (r ErrRetriable) Error() string {
	return r.err.Error()
}

// Unwrap returns the next error in the error chain.
func (r ErrRetriable) Unwrap() error {
	return r.err
}

// Retriable wraps an error to tell Do that it should keep trying.
// Returns nil if err is nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return ErrRetriable{err: err}
}

// Do calls f until it succeeds, returns an error not wrapped with Retriable,
// the delays run out or the context is closed.
//
// When the delays run out, the last retriable error is returned unwrapped.
// Repeated identical retriable errors are logged only once.
func Do(ctx context.Context, c Config, f func() error) error {
	startedAt := time.Now()
	delays := c.Delays()
	var lastMessage string
	var r ErrRetriable
	for i := 0; ; i++ {
		logger := tlog.Get(ctx).With(zap.Int("attempts", i+1))

		delay, ok := delays()
		if !ok {
			if i == 0 {
				panic("ok is false on first attempt")
			}
			logger.Debug("Retry failed after maximum number of attempts", zap.Error(r.err), zap.Duration("duration", time.Since(startedAt)))
			return r.err
		}

		if err := Sleep(ctx, delay); err != nil {
			if i > 0 {
				logger.Debug("Retry canceled", zap.Error(err), zap.Duration("duration", time.Since(startedAt)))
			}
			return err
		}

		err := f()
		if !errors.As(err, &r) {
			if i > 0 && err == nil {
				logger.Debug("Retry succeeded", zap.Duration("duration", time.Since(startedAt)))
			}
			return err
		}
		if ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
			return r.err
		}

		if newMessage := r.err.Error(); lastMessage != newMessage {
			logger.Debug("Will retry", zap.Error(r.err))
			lastMessage = newMessage
		}
	}
}

// Do1 is a single return value version of Do
func Do1[T any](ctx context.Context, c Config, f func() (T, error)) (T, error) {
	var t T
	err := Do(ctx, c, func() error {
		var err error
		t, err = f()
		return err
	})
	return t, err
}
