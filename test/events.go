package test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// EventTimeout is how long the assertions below wait for each event
const EventTimeout = 3 * time.Second

func receive(ctx context.Context, ch reflect.Value) (any, bool, error) {
	chosen, recv, recvOK := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: ch},
	})
	if chosen == 0 {
		return nil, false, ctx.Err()
	}
	if !recvOK {
		return nil, false, nil
	}
	return recv.Interface(), true, nil
}

func channel(ch any) reflect.Value {
	chVal := reflect.ValueOf(ch)
	if chVal.Kind() != reflect.Chan {
		panic("ch is not a channel")
	}
	if chVal.Type().ChanDir()&reflect.RecvDir == 0 {
		panic("values can't be received from ch")
	}
	return chVal
}

// AssertForefrontEvents asserts that the expected list of events was received on the actual channel
func AssertForefrontEvents(t *testing.T, actualCh any, expected ...any) bool {
	t.Helper()
	ch := channel(actualCh)

	ok := true
	for i, e := range expected {
		ctx, cancel := context.WithTimeout(context.Background(), EventTimeout)
		val, valOK, err := receive(ctx, ch)
		cancel()
		if !assert.NoErrorf(t, err, "timeout waiting for event %d (%#v)", i, e) {
			return false
		}
		if !assert.Truef(t, valOK, "channel closed, index: %d", i) {
			return false
		}
		ok = assert.Equal(t, e, val) && ok
	}
	return ok
}

// AssertEvents asserts that the expected list of events was received on the actual channel and no unexpected events are enqueued there
func AssertEvents(t *testing.T, actualCh any, expected ...any) bool {
	t.Helper()
	if !AssertForefrontEvents(t, actualCh, expected...) {
		return false
	}

	ch := channel(actualCh)
	ok := true
	for ch.Len() > 0 {
		val, valOK, _ := receive(context.Background(), ch)
		if !valOK {
			break
		}
		assert.Fail(t, "unexpected event", "%#v", val)
		ok = false
	}
	return ok
}

// AssertNoEvents waits for a short while and asserts that nothing arrives on the channel
func AssertNoEvents(t *testing.T, actualCh any, wait time.Duration) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	val, valOK, err := receive(ctx, channel(actualCh))
	if err != nil || !valOK {
		return true
	}
	return assert.Fail(t, "unexpected event", "%#v", val)
}
